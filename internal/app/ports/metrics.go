package ports

type SessionMetrics interface {
	RecordCommand(action string)
	RecordRejected(reason string)
	RecordConnection(open bool)
	RecordBroadcastFailure()
	RecordArchiveFailure()
}
