package action

import "time"

// Kind names an operation a worker session can perform.
type Kind string

const (
	KindJoin      Kind = "join"
	KindLeave     Kind = "leave"
	KindBroadcast Kind = "broadcast"
	KindCheck     Kind = "check_membership"
	KindKeepAlive Kind = "keep_alive"
)

// Status classifies the outcome of a single action.
type Status string

const (
	// StatusSuccess: the action took effect.
	StatusSuccess Status = "success"
	// StatusAlreadyDone: the desired state already held (already a member,
	// already left). Counted as success by runs.
	StatusAlreadyDone Status = "already_done"
	// StatusRateLimited: the server asked us to back off. RetryAfter carries
	// the server-provided wait.
	StatusRateLimited Status = "rate_limited"
	// StatusForbidden: the target rejects this account (banned, private,
	// invite invalid). Not retryable.
	StatusForbidden Status = "forbidden"
	// StatusSessionInvalid: the session's authorization is dead. The account
	// must be evicted from the pool.
	StatusSessionInvalid Status = "session_invalid"
	// StatusTransient: an unclassified failure worth retrying on a later run.
	StatusTransient Status = "transient"
)

// OK reports whether the status counts as a successful outcome.
func (s Status) OK() bool { return s == StatusSuccess || s == StatusAlreadyDone }

// Op is one unit of work: a kind applied to a target by whatever session
// executes it.
type Op struct {
	Kind   Kind
	Target string // chat link, @username or invite; empty for broadcast/keep-alive
	Peer   int64  // dialog id for broadcast
	Text   string // broadcast payload
}

// Result is the classified outcome of one Op on one session.
type Result struct {
	Phone      string
	Op         Op
	Status     Status
	RetryAfter time.Duration // set when Status == StatusRateLimited
	Member     bool          // set for check_membership
	Err        error
	Took       time.Duration
}

// Dialog is a conversation visible to a session, used by broadcast and
// the membership census.
type Dialog struct {
	ID      int64
	Title   string
	IsGroup bool
}
