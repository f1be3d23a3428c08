package animation

import "sort"

const DefaultQueryLimit = 50

type LogFilter struct {
	Type  string
	Limit int
}

type CommandFilter struct {
	EntityID string
	Limit    int
}

func (f LogFilter) Match(e LogEntry) bool {
	return f.Type == "" || e.Type == f.Type
}

func (f CommandFilter) Match(c Command) bool {
	return f.EntityID == "" || c.EntityID == f.EntityID
}

// SelectLogs filters entries (already newest first) and truncates to the limit.
func SelectLogs(entries []LogEntry, f LogFilter) []LogEntry {
	return selectItems(entries, f.Match, f.Limit)
}

func SelectCommands(cmds []Command, f CommandFilter) []Command {
	return selectItems(cmds, f.Match, f.Limit)
}

// SortLogsDesc orders by timestamp, newest first.
func SortLogsDesc(entries []LogEntry) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Timestamp > entries[j].Timestamp })
}

func SortCommandsDesc(cmds []Command) {
	sort.SliceStable(cmds, func(i, j int) bool { return cmds[i].Timestamp > cmds[j].Timestamp })
}

func selectItems[T any](items []T, match func(T) bool, limit int) []T {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	out := make([]T, 0, min(limit, len(items)))
	for _, it := range items {
		if !match(it) {
			continue
		}
		out = append(out, it)
		if len(out) == limit {
			break
		}
	}
	return out
}
