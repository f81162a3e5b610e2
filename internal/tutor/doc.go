// Package tutor implements the math tutoring pipeline on top of package graph.
//
// Five agents share an AgentState:
//
//   - parser: structured extraction of problem text and topic; flags
//     ambiguous input instead of failing
//   - retriever: top-k knowledge search, each hit cited as [Source: …]
//   - solver: step-by-step solution grounded in the retrieved context
//   - verifier: structured correctness check with a critique
//   - explainer: Markdown + LaTeX explanation of a verified solution
//
// Runs stop early when the parser asks for clarification or the verifier
// rejects the answer. Summarize turns the final state into what a student
// sees.
package tutor
