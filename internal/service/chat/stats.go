package chat

import (
	"context"
	"sort"
	"time"

	"github.com/mirelon-dev/halodesk/internal/model/chat"
)

// AgentStatistics derives the agent's counters by scanning session and
// message state on demand. Nothing is accumulated in shared mutable
// counters, so the figures can't drift from the underlying records.
//
// The response-time metric is the per-session median interval between a
// customer or guest message and the next agent message, averaged over
// the agent's sessions. When no such pairing exists the metric is
// absent, never zero.
func (s *Service) AgentStatistics(ctx context.Context, agentID string) (chat.AgentStatistics, error) {
	if agentID == "" {
		return chat.AgentStatistics{}, ErrAgentRequired
	}

	sessions, err := s.store.ListByAgent(ctx, agentID)
	if err != nil {
		return chat.AgentStatistics{}, err
	}

	now := s.now()
	stats := chat.AgentStatistics{TotalChats: len(sessions)}
	var medians []time.Duration

	for _, sess := range sessions {
		if sess.Status == chat.StatusActive {
			stats.ActiveChats++
		}
		if sess.Status == chat.StatusClosed && sess.ClosedAt != nil && sameDay(*sess.ClosedAt, now) {
			stats.ClosedToday++
		}

		msgs, err := s.store.ListMessages(ctx, sess.ID)
		if err != nil {
			return chat.AgentStatistics{}, err
		}
		if m, ok := medianResponse(msgs); ok {
			medians = append(medians, m)
		}
	}

	if len(medians) > 0 {
		var total time.Duration
		for _, m := range medians {
			total += m
		}
		avg := (total / time.Duration(len(medians))).Seconds()
		stats.AvgResponseSeconds = &avg
	}
	return stats, nil
}

// medianResponse computes the median interval between each customer or
// guest message and the next agent message in one transcript. The
// second return is false when the transcript has no such pairing.
func medianResponse(msgs []chat.Message) (time.Duration, bool) {
	var intervals []time.Duration

	for i, m := range msgs {
		if m.SenderKind == chat.SenderAgent {
			continue
		}
		for _, reply := range msgs[i+1:] {
			if reply.SenderKind == chat.SenderAgent {
				intervals = append(intervals, reply.SentAt.Sub(m.SentAt))
				break
			}
		}
	}
	if len(intervals) == 0 {
		return 0, false
	}

	sort.Slice(intervals, func(i, j int) bool { return intervals[i] < intervals[j] })
	mid := len(intervals) / 2
	if len(intervals)%2 == 1 {
		return intervals[mid], true
	}
	return (intervals[mid-1] + intervals[mid]) / 2, true
}

// sameDay compares calendar days in the reference time's location.
func sameDay(t, ref time.Time) bool {
	y1, m1, d1 := t.In(ref.Location()).Date()
	y2, m2, d2 := ref.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
