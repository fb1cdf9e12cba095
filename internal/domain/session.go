package domain

// WidgetSession is the per-attempt anonymous identity presented to the helpdesk
// widget API. It is built fresh for every ticket attempt and never persisted.
type WidgetSession struct {
	Email              string
	EmailHash          string
	TimestampMillis    int64
	AnonymousSessionID string
	IsAnonymous        bool
	ShowWidget         bool
	IsWhitelabel       bool
	Title              string
}
