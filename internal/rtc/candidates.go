package rtc

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// PendingCandidate is a remote candidate received before it could be applied.
type PendingCandidate struct {
	Init      webrtc.ICECandidateInit
	SessionID string
}

// CandidateQueue keeps remote candidates in arrival order. It is not safe
// for concurrent use; Session guards it with its own lock.
type CandidateQueue struct {
	items []PendingCandidate
}

func (q *CandidateQueue) Push(c PendingCandidate) {
	q.items = append(q.items, c)
}

func (q *CandidateQueue) Len() int {
	return len(q.items)
}

func (q *CandidateQueue) Clear() {
	q.items = nil
}

// Flush empties the queue, applying candidates of sessionID in arrival order.
// Candidates tagged with another session are discarded. A failing candidate
// is logged and the flush continues.
func (q *CandidateQueue) Flush(sessionID string, apply func(webrtc.ICECandidateInit) error) int {
	items := q.items
	q.items = nil

	applied := 0
	for _, c := range items {
		if c.SessionID != "" && c.SessionID != sessionID {
			log.Debug().Str("session_id", c.SessionID).Str("current", sessionID).Msg("Discarding queued candidate of stale session")
			continue
		}
		if err := apply(c.Init); err != nil {
			log.Warn().Err(err).Str("candidate", c.Init.Candidate).Msg("Failed to apply queued ICE candidate")
			continue
		}
		applied++
	}
	return applied
}
