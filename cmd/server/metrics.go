package main

import "animstream/internal/app/ports"

// fanout forwards every observation to each recorder.
type fanout []ports.SessionMetrics

func (f fanout) RecordCommand(action string) {
	for _, m := range f {
		m.RecordCommand(action)
	}
}

func (f fanout) RecordRejected(reason string) {
	for _, m := range f {
		m.RecordRejected(reason)
	}
}

func (f fanout) RecordConnection(open bool) {
	for _, m := range f {
		m.RecordConnection(open)
	}
}

func (f fanout) RecordBroadcastFailure() {
	for _, m := range f {
		m.RecordBroadcastFailure()
	}
}

func (f fanout) RecordArchiveFailure() {
	for _, m := range f {
		m.RecordArchiveFailure()
	}
}
