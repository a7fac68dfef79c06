// Package feed publishes finished match results to Kafka for downstream
// consumers (leaderboards, history).
package feed

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"pong-server/internal/match"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Recorder stores a result with the next recorder, then publishes it. A
// publish failure is logged and does not fail the call; the stored result
// is the source of truth.
type Recorder struct {
	next   match.ResultRecorder
	writer messageWriter
	logger *slog.Logger
}

func NewRecorder(next match.ResultRecorder, w messageWriter, logger *slog.Logger) *Recorder {
	return &Recorder{next: next, writer: w, logger: logger}
}

// NewWriter builds a Kafka writer for topic. Messages are keyed by
// session id, so results for a pair land on one partition.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
}

type resultMessage struct {
	SessionID  uint64    `json:"sessionId"`
	Player1    int64     `json:"player1"`
	Player2    int64     `json:"player2"`
	Winner     int64     `json:"winner"`
	Score1     int       `json:"score1"`
	Score2     int       `json:"score2"`
	Forfeit    bool      `json:"forfeit"`
	FinishedAt time.Time `json:"finishedAt"`
}

func encode(r match.Result) (kafka.Message, error) {
	value, err := json.Marshal(resultMessage{
		SessionID:  uint64(r.SessionID),
		Player1:    r.Players[0],
		Player2:    r.Players[1],
		Winner:     r.Winner,
		Score1:     r.Scores[0],
		Score2:     r.Scores[1],
		Forfeit:    r.Forfeit,
		FinishedAt: r.FinishedAt,
	})
	if err != nil {
		return kafka.Message{}, err
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(r.SessionID))
	return kafka.Message{Key: key, Value: value, Time: r.FinishedAt}, nil
}

func (r *Recorder) RecordMatchResult(ctx context.Context, res match.Result) error {
	if r.next != nil {
		if err := r.next.RecordMatchResult(ctx, res); err != nil {
			return err
		}
	}

	msg, err := encode(res)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		r.logger.Warn("failed to publish match result", "session_id", res.SessionID, "err", err)
	}
	return nil
}

func (r *Recorder) Close() error {
	return r.writer.Close()
}
