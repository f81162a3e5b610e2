// ABOUTME: End-to-end encryption setup for the mentor-matrix bridge
// ABOUTME: Keeps the mautrix crypto store in SQLite and cross-signs with a recovery key

package main

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

// CryptoManager handles Matrix E2EE setup and lifecycle.
type CryptoManager struct {
	helper *cryptohelper.CryptoHelper
	logger *slog.Logger
}

// SetupCrypto initializes E2EE for the Matrix client and verifies the device
// with recoveryKey. A failed verification is logged; encryption still works
// without cross-signing. If the crypto store belongs to an older device, it
// is reset.
func SetupCrypto(ctx context.Context, client *mautrix.Client, userID, recoveryKey, dataDir string, logger *slog.Logger) (*CryptoManager, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	userSlug := slugify(userID)
	dbPath := filepath.Join(dataDir, fmt.Sprintf("matrix-crypto-%s.db", userSlug))
	logger.Info("setting up encryption", "db", dbPath, "user", userSlug)

	helper, err := initCryptoHelper(ctx, client, deriveStoreKey(userID), dbPath, logger)
	if err != nil {
		return nil, err
	}

	// Outgoing messages in encrypted rooms are encrypted automatically.
	client.Crypto = helper

	manager := &CryptoManager{
		helper: helper,
		logger: logger,
	}

	if recoveryKey == "" {
		logger.Info("encryption initialized (no recovery key - cross-signing disabled)")
		return manager, nil
	}

	if err := manager.verifyWithRecoveryKey(ctx, recoveryKey); err != nil {
		logger.Warn("failed to verify with recovery key", "error", err)
		logger.Info("encryption enabled without cross-signing verification")
	} else {
		logger.Info("encryption initialized with cross-signing verification")
	}
	return manager, nil
}

func (cm *CryptoManager) verifyWithRecoveryKey(ctx context.Context, recoveryKey string) error {
	machine := cm.helper.Machine()
	if machine == nil {
		return fmt.Errorf("crypto machine not initialized")
	}

	cm.logger.Info("verifying device with recovery key")
	if err := machine.VerifyWithRecoveryKey(ctx, recoveryKey); err != nil {
		return fmt.Errorf("recovery key verification failed: %w", err)
	}

	cm.logger.Info("device verified with recovery key")
	return nil
}

// Close cleans up crypto resources.
func (cm *CryptoManager) Close() error {
	if cm.helper != nil {
		return cm.helper.Close()
	}
	return nil
}

// slugify converts a Matrix user ID to a filesystem-safe string.
// Example: @mentorbot:matrix.org -> mentorbot_matrix.org
func slugify(userID string) string {
	s := userID
	if len(s) > 0 && s[0] == '@' {
		s = s[1:]
	}
	result := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '.' || c == '-' || c == '_' {
			result = append(result, c)
		} else if c == ':' {
			result = append(result, '_')
		}
	}
	return string(result)
}

// deriveStoreKey creates a deterministic 32-byte store encryption key from
// the user ID.
func deriveStoreKey(userID string) []byte {
	h := sha256.Sum256([]byte("mentor-matrix-crypto:" + userID))
	return h[:]
}

// initCryptoHelper creates and initializes the crypto helper. A new login
// gets a new device ID, so a store holding keys for another device is
// removed first.
func initCryptoHelper(ctx context.Context, client *mautrix.Client, storeKey []byte, dbPath string, logger *slog.Logger) (*cryptohelper.CryptoHelper, error) {
	// Checked before the helper opens the database to avoid lock contention.
	if needsReset, err := checkDeviceIDMismatch(dbPath, client.DeviceID.String()); err != nil {
		logger.Debug("could not check device ID", "error", err)
	} else if needsReset {
		logger.Warn("device ID mismatch detected, resetting crypto database before init")
		if err := resetCryptoStore(dbPath); err != nil {
			return nil, err
		}
		logger.Info("crypto database reset")
	}

	helper, err := cryptohelper.NewCryptoHelper(client, storeKey, dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}

	if err := helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}

	return helper, nil
}

func resetCryptoStore(dbPath string) error {
	if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing old crypto database: %w", err)
	}
	_ = os.Remove(dbPath + "-wal")
	_ = os.Remove(dbPath + "-shm")
	return nil
}

// checkDeviceIDMismatch reports whether an existing crypto database holds an
// account for a different device than currentDeviceID.
func checkDeviceIDMismatch(dbPath string, currentDeviceID string) (bool, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return false, nil
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return false, err
	}
	defer func() { _ = db.Close() }()

	// mautrix keeps the account in crypto_account.
	var storedDeviceID string
	err = db.QueryRow("SELECT device_id FROM crypto_account LIMIT 1").Scan(&storedDeviceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	return storedDeviceID != currentDeviceID, nil
}
