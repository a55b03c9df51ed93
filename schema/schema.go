/*
Package schema creates the ledger's tables and decides who maintains client
aggregates.

PURPOSE:
  Ensure runs once at startup. It is idempotent: running it against an
  existing database changes nothing except the settings row.

STRATEGIES:
  StrategyNative:      the backend runs a trigger after every sale insert
  StrategyApplication: ledger.Service updates the aggregate itself, in the
                       same transaction as the sale insert

  The strategy follows storage.Capabilities.NativeTriggers and is decided
  here, once. Callers pass it to ledger.NewService; nothing branches on
  backend type afterwards.

  Ensure records the strategy in ledger_settings. Processes that only read
  (audit, reports) call ReadStrategy instead and never touch the trigger,
  so they cannot switch it off under a running writer.

SETTINGS:
  The VIP threshold and discount live in the ledger_settings row so the
  trigger and the Go tier engine read the same numbers. Changing them does
  not re-evaluate existing clients.

SEE ALSO:
  - storage/sqlite/statements.go, storage/postgres/statements.go: DDL
  - ledger/tier.go: the application-side twin of the trigger
*/
package schema

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/warp/client-ledger/storage"
)

// Strategy says where the aggregate update runs.
type Strategy int

const (
	StrategyApplication Strategy = iota
	StrategyNative
)

// ErrNotInitialized is returned by ReadStrategy before the first Ensure.
var ErrNotInitialized = errors.New("schema not initialized")

// ParseStrategy is the inverse of Strategy.String.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "native":
		return StrategyNative, nil
	case "application":
		return StrategyApplication, nil
	}
	return StrategyApplication, fmt.Errorf("unknown aggregate strategy %q", s)
}

func (s Strategy) String() string {
	switch s {
	case StrategyNative:
		return "native"
	case StrategyApplication:
		return "application"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// Settings is the tier policy in storage units.
type Settings struct {
	VIPThresholdCents int64
	VIPDiscountBP     int64
}

// Manager owns schema creation for one backend.
type Manager struct {
	backend  storage.Backend
	settings Settings
	logger   zerolog.Logger
}

// NewManager creates a schema manager. settings is written to the settings
// row on every Ensure.
func NewManager(backend storage.Backend, settings Settings, logger zerolog.Logger) *Manager {
	return &Manager{
		backend:  backend,
		settings: settings,
		logger:   logger.With().Str("component", "schema").Logger(),
	}
}

// Ensure creates whatever is missing and returns the aggregate strategy.
func (m *Manager) Ensure(ctx context.Context) (Strategy, error) {
	caps := m.backend.Capabilities()
	strategy := StrategyApplication
	if caps.NativeTriggers {
		strategy = StrategyNative
	}

	var (
		previous         *Settings
		previousStrategy *Strategy
	)
	err := storage.WithTx(ctx, m.backend, func(tx storage.Tx) error {
		if _, err := tx.Exec(ctx, storage.SchemaTables); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
		if _, err := tx.Exec(ctx, storage.SchemaIndexes); err != nil {
			return fmt.Errorf("create indexes: %w", err)
		}

		current, err := ReadSettings(ctx, tx)
		switch {
		case err == nil:
			previous = &current
		case !errors.Is(err, storage.ErrNoRows):
			return err
		}
		if previous != nil {
			stored, err := ReadStrategy(ctx, tx)
			if err != nil {
				return err
			}
			previousStrategy = &stored
		}

		if _, err := tx.Exec(ctx, storage.SchemaSettings,
			m.settings.VIPThresholdCents, m.settings.VIPDiscountBP, strategy.String()); err != nil {
			return fmt.Errorf("write settings: %w", err)
		}

		// Drop first so a changed trigger body is always reinstalled.
		if _, err := tx.Exec(ctx, storage.SchemaDropTrigger); err != nil {
			return fmt.Errorf("drop trigger: %w", err)
		}
		if strategy == StrategyNative {
			if _, err := tx.Exec(ctx, storage.SchemaInstallTrigger); err != nil {
				return fmt.Errorf("install trigger: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return StrategyApplication, fmt.Errorf("ensure schema: %w", err)
	}

	if previous != nil && *previous != m.settings {
		m.logger.Warn().
			Int64("old_threshold_cents", previous.VIPThresholdCents).
			Int64("new_threshold_cents", m.settings.VIPThresholdCents).
			Int64("old_discount_bp", previous.VIPDiscountBP).
			Int64("new_discount_bp", m.settings.VIPDiscountBP).
			Msg("tier policy changed; existing client tiers are not re-evaluated")
	}

	if previousStrategy != nil && *previousStrategy != strategy {
		m.logger.Warn().
			Stringer("old_strategy", *previousStrategy).
			Stringer("new_strategy", strategy).
			Msg("aggregate strategy changed; restart every process writing to this database")
	}

	m.logger.Info().
		Str("dialect", caps.Dialect).
		Stringer("strategy", strategy).
		Msg("schema ready")
	return strategy, nil
}

// ReadSettings returns the stored tier policy.
// Returns storage.ErrNoRows before the first Ensure.
func ReadSettings(ctx context.Context, c storage.Conn) (Settings, error) {
	var s Settings
	err := storage.QueryRow(ctx, c, storage.SchemaTierPolicy, nil, &s.VIPThresholdCents, &s.VIPDiscountBP)
	if err != nil {
		return Settings{}, err
	}
	return s, nil
}

// ReadStrategy returns the strategy recorded by the last Ensure without
// changing the schema. Returns ErrNotInitialized when there is none.
func ReadStrategy(ctx context.Context, c storage.Conn) (Strategy, error) {
	var name string
	err := storage.QueryRow(ctx, c, storage.SchemaStrategy, nil, &name)
	if errors.Is(err, storage.ErrNoRows) || errors.Is(err, storage.ErrSyntax) {
		return StrategyApplication, fmt.Errorf("%w: %v", ErrNotInitialized, err)
	}
	if err != nil {
		return StrategyApplication, err
	}
	return ParseStrategy(name)
}
