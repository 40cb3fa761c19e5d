// Package journal keeps an sqlite audit trail of control commands and
// thermal transitions, and the state restored on startup.
package journal

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/laptopctl/internal/control"
	"codeberg.org/mutker/laptopctl/internal/errors"
	"codeberg.org/mutker/laptopctl/internal/logger"
	"codeberg.org/mutker/laptopctl/internal/thermal"
	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultDirPerm      = 0o755
	defaultBatchSize    = 32
	defaultBatchTimeout = 5 * time.Second

	keyActiveProfile = "active_profile"
	keyRgbState      = "rgb_state"
	outcomeOK        = "ok"
	outcomeError     = "error"
)

type Config struct {
	DBPath       string
	BatchSize    int
	BatchTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = defaultBatchTimeout
	}
	return c
}

// State is what is restored on startup.
type State struct {
	Profile string
	Rgb     *control.RgbState
}

type commandEntry struct {
	cmd     control.Command
	outcome string
	at      time.Time
}

// Journal buffers entries and writes them in batches.
type Journal struct {
	db  *sql.DB
	log logger.Logger
	cfg Config

	mu          sync.Mutex
	commands    []commandEntry
	transitions []thermal.Transition

	kick          chan struct{}
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
	closeOnce     sync.Once
}

var (
	_ control.Recorder = (*Journal)(nil)
	_ thermal.Recorder = (*Journal)(nil)
)

// Open opens or creates the database at cfg.DBPath.
func Open(cfg Config, log logger.Logger) (*Journal, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal=WAL&_auto_vacuum=2&_busy_timeout=5000")
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}
	db.SetMaxOpenConns(1)

	j, err := New(db, cfg, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	return j, nil
}

// New uses an already open database.
func New(db *sql.DB, cfg Config, log logger.Logger) (*Journal, error) {
	cfg = cfg.withDefaults()

	backups := filepath.Join(filepath.Dir(cfg.DBPath), "backups")
	if err := ValidateAndUpdateSchema(db, backups, log); err != nil {
		return nil, errors.New().WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Dur("batch_timeout", cfg.BatchTimeout).
		Msg("Journal initialized")

	j := &Journal{
		db:            db,
		log:           log,
		cfg:           cfg,
		kick:          make(chan struct{}, 1),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}
	go j.flusher()

	return j, nil
}

// RecordCommand queues a command outcome.
func (j *Journal) RecordCommand(cmd control.Command, err error, at time.Time) {
	outcome := outcomeOK
	if err != nil {
		outcome = string(errors.CodeOf(err))
		if outcome == "" {
			outcome = outcomeError
		}
	}

	j.mu.Lock()
	j.commands = append(j.commands, commandEntry{cmd: cmd, outcome: outcome, at: at})
	full := len(j.commands)+len(j.transitions) >= j.cfg.BatchSize
	j.mu.Unlock()

	if full {
		j.signal()
	}
}

// RecordTransition queues a thermal state change.
func (j *Journal) RecordTransition(t thermal.Transition) {
	j.mu.Lock()
	j.transitions = append(j.transitions, t)
	full := len(j.commands)+len(j.transitions) >= j.cfg.BatchSize
	j.mu.Unlock()

	if full {
		j.signal()
	}
}

func (j *Journal) signal() {
	select {
	case j.kick <- struct{}{}:
	default:
	}
}

// SaveState stores the active profile and RGB state immediately.
func (j *Journal) SaveState(profileName string, rgb control.RgbState) error {
	errFactory := errors.New()

	encoded, err := json.Marshal(rgb)
	if err != nil {
		return errFactory.Wrap(ErrStorageWrite, err)
	}

	tx, err := j.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				j.log.Debug().Err(err).Msg("Failed to rollback state update")
			}
		}
	}()

	now := time.Now().Unix()
	for _, kv := range [][2]string{{keyActiveProfile, profileName}, {keyRgbState, string(encoded)}} {
		if _, err := tx.Exec(upsertStateSQL, kv[0], kv[1], now); err != nil {
			return errFactory.WithData(ErrStorageWrite, struct {
				Phase string
				Key   string
				Error string
			}{
				Phase: "upsert_state",
				Key:   kv[0],
				Error: err.Error(),
			})
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	committed = true

	return nil
}

// LoadState returns the stored state. Missing keys leave fields empty.
func (j *Journal) LoadState() (State, error) {
	errFactory := errors.New()
	var st State

	err := j.db.QueryRow(selectStateSQL, keyActiveProfile).Scan(&st.Profile)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return State{}, errFactory.Wrap(ErrStorageInit, err)
	}

	var encoded string
	err = j.db.QueryRow(selectStateSQL, keyRgbState).Scan(&encoded)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return State{}, errFactory.Wrap(ErrStorageInit, err)
	default:
		var rgb control.RgbState
		if err := json.Unmarshal([]byte(encoded), &rgb); err != nil {
			j.log.Warn().Err(err).Msg("Ignoring malformed stored RGB state")
		} else {
			st.Rgb = &rgb
		}
	}

	return st, nil
}

// Close flushes pending entries and closes the database.
func (j *Journal) Close() error {
	var closeErr error
	j.closeOnce.Do(func() {
		close(j.shutdownChan)
		<-j.flushDoneChan

		if _, err := j.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			j.log.Debug().Err(err).Msg("Failed to checkpoint journal WAL")
		}

		if err := j.db.Close(); err != nil {
			closeErr = errors.New().WithData(ErrStorageClose, struct {
				Phase string
				Error string
			}{
				Phase: "close_database",
				Error: err.Error(),
			})
			return
		}

		j.log.Info().Msg("Journal closed")
	})
	return closeErr
}

func (j *Journal) flusher() {
	defer close(j.flushDoneChan)

	ticker := time.NewTicker(j.cfg.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.flush()
		case <-j.kick:
			j.flush()
		case <-j.shutdownChan:
			j.flush()
			return
		}
	}
}

// Flush writes pending entries now.
func (j *Journal) Flush() error {
	return j.flush()
}

func (j *Journal) flush() error {
	j.mu.Lock()
	commands := j.commands
	transitions := j.transitions
	j.commands = nil
	j.transitions = nil
	j.mu.Unlock()

	if len(commands) == 0 && len(transitions) == 0 {
		return nil
	}

	if err := j.write(commands, transitions); err != nil {
		j.log.Error().Err(err).
			Int("commands", len(commands)).
			Int("transitions", len(transitions)).
			Msg("Failed to flush journal")
		return err
	}

	j.log.Debug().
		Int("commands", len(commands)).
		Int("transitions", len(transitions)).
		Msg("Flushed journal")

	return nil
}

func (j *Journal) write(commands []commandEntry, transitions []thermal.Transition) error {
	errFactory := errors.New()

	tx, err := j.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				j.log.Debug().Err(err).Msg("Failed to rollback journal flush")
			}
		}
	}()

	if len(commands) > 0 {
		stmt, err := tx.Prepare(insertCommandSQL)
		if err != nil {
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
		defer stmt.Close()

		for _, e := range commands {
			if _, err := stmt.Exec(
				e.cmd.ID,
				e.at.Unix(),
				string(e.cmd.Source),
				string(e.cmd.Kind),
				string(e.cmd.Channel()),
				e.cmd.Describe(),
				e.outcome,
			); err != nil {
				return errFactory.Wrap(ErrTransactionFailed, err)
			}
		}
	}

	if len(transitions) > 0 {
		stmt, err := tx.Prepare(insertTransitionSQL)
		if err != nil {
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
		defer stmt.Close()

		for _, t := range transitions {
			if _, err := stmt.Exec(
				t.At.Unix(),
				t.From.String(),
				t.To.String(),
				t.Temperature,
				t.Reason,
			); err != nil {
				return errFactory.Wrap(ErrTransactionFailed, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	committed = true

	return nil
}
