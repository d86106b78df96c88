package engine

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"mabot/internal/models"

	"github.com/rs/zerolog"
)

// DecisionRecord is one line of the decision log: a decision, a suppressed
// buy or a confirmation, with what became of it.
type DecisionRecord struct {
	RunID     string         `json:"run_id"`
	Timestamp time.Time      `json:"timestamp"`
	TickTime  time.Time      `json:"tick_time"`
	Symbol    string         `json:"symbol"`
	Price     float64        `json:"price"`
	Side      models.Side    `json:"side,omitempty"`
	Quantity  int64          `json:"quantity,omitempty"`
	HoldingID string         `json:"holding_id,omitempty"`
	Note      string         `json:"note,omitempty"`
	Result    string         `json:"result"`
	Error     string         `json:"error,omitempty"`
	OrderID   string         `json:"order_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// DecisionLogger appends records to an NDJSON file.
type DecisionLogger struct {
	runID  string
	file   *os.File
	writer *bufio.Writer
	log    zerolog.Logger
	mu     sync.Mutex
}

func NewDecisionLogger(path string, runID string, log zerolog.Logger) (*DecisionLogger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &DecisionLogger{
		runID:  runID,
		file:   file,
		writer: bufio.NewWriter(file),
		log:    log.With().Str("component", "decisions").Logger(),
	}, nil
}

func (d *DecisionLogger) RunID() string {
	return d.runID
}

func (d *DecisionLogger) Append(rec DecisionRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		d.log.Error().Err(err).Msg("failed to marshal decision")
		return
	}
	if _, err := d.writer.Write(append(payload, '\n')); err != nil {
		d.log.Error().Err(err).Msg("failed to write decision")
		return
	}
	if err := d.writer.Flush(); err != nil {
		d.log.Error().Err(err).Msg("failed to flush decision log")
	}
}

func (d *DecisionLogger) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writer.Flush(); err != nil {
		_ = d.file.Close()
		return err
	}
	return d.file.Close()
}
