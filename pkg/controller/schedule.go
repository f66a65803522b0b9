package controller

import (
	"sort"
	"time"

	"github.com/jingfee/sungrow-scheduler/pkg/types"
)

// Entry is one message of a Schedule.
type Entry struct {
	At      time.Time
	Message types.Message
}

// Schedule is an ordered set of messages keyed by time. Setting a message at
// a time that already holds one replaces it.
type Schedule struct {
	entries []Entry
}

// Set stores msg at at, replacing any message already at that time.
func (s *Schedule) Set(at time.Time, msg types.Message) {
	i := sort.Search(len(s.entries), func(i int) bool {
		return !s.entries[i].At.Before(at)
	})
	if i < len(s.entries) && s.entries[i].At.Equal(at) {
		s.entries[i].Message = msg
		return
	}
	s.entries = append(s.entries, Entry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = Entry{At: at, Message: msg}
}

// Entries returns the messages in chronological order.
func (s *Schedule) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Schedule) Len() int {
	return len(s.entries)
}

// Merge sets every entry of other on s.
func (s *Schedule) Merge(other *Schedule) {
	for _, e := range other.entries {
		s.Set(e.At, e.Message)
	}
}

// RankedPrice is a period selected for discharge. A nil Rank is unconditional.
type RankedPrice struct {
	types.Price
	Rank *int
}

// AddPeriods emits start at the beginning of every run of contiguous periods
// and stop at the end of the run. Periods are contiguous when one starts
// exactly one period length after the previous one.
func (s *Schedule) AddPeriods(periods []types.Price, start, stop types.Message) {
	periods = chronological(periods)
	for i, p := range periods {
		if i == 0 || !contiguous(periods[i-1], p) {
			s.Set(p.TSStart, start)
		}
		if i == len(periods)-1 || !contiguous(p, periods[i+1]) {
			s.Set(p.TSEnd, stop)
		}
	}
}

// AddRankedPeriods emits a start carrying its rank for every period, so each
// period gets its own admission decision, and a stop at the end of every run
// of contiguous periods.
func (s *Schedule) AddRankedPeriods(periods []RankedPrice, start, stop types.Message) {
	periods = chronologicalRanked(periods)
	for i, p := range periods {
		msg := start
		msg.Rank = nil
		if p.Rank != nil {
			msg = start.Ranked(*p.Rank)
		}
		s.Set(p.TSStart, msg)
		if i == len(periods)-1 || !contiguous(p.Price, periods[i+1].Price) {
			s.Set(p.TSEnd, stop)
		}
	}
}

func contiguous(prev, next types.Price) bool {
	return next.TSStart.Equal(prev.TSStart.Add(prev.TSEnd.Sub(prev.TSStart)))
}

// rankByPrice ranks ps by descending price starting at base and returns them
// in chronological order.
func rankByPrice(ps []types.Price, base int) []RankedPrice {
	out := make([]RankedPrice, 0, len(ps))
	for i, p := range byPriceDesc(ps) {
		out = append(out, RankedPrice{Price: p, Rank: intPtr(base + i)})
	}
	return chronologicalRanked(out)
}

func chronologicalRanked(ps []RankedPrice) []RankedPrice {
	out := make([]RankedPrice, len(ps))
	copy(out, ps)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TSStart.Before(out[j].TSStart)
	})
	return out
}

// ranksOf returns the distinct ranks of ps in ascending order.
func ranksOf(ps []RankedPrice) []int {
	seen := map[int]bool{}
	ranks := []int{}
	for _, p := range ps {
		if p.Rank == nil || seen[*p.Rank] {
			continue
		}
		seen[*p.Rank] = true
		ranks = append(ranks, *p.Rank)
	}
	sort.Ints(ranks)
	return ranks
}

func intPtr(v int) *int {
	return &v
}
