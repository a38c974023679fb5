package policy

import (
	"time"

	"titanfabric/internal/bus"
	"titanfabric/internal/logging"
	"titanfabric/internal/subjects"
	"titanfabric/internal/types"
)

// HashSource supplies the execution side's current policy hash and an
// optional version tag.
type HashSource func() (hash string, version string)

// Replier is the slice of the broker client the responder consumes.
type Replier interface {
	ServeRequests(subject string, handler bus.RequestHandler) (*bus.Subscription, error)
}

// StartResponder serves the execution-side half of the handshake. The
// returned subscription stops it.
func StartResponder(b Replier, source HashSource) (*bus.Subscription, error) {
	sub, err := b.ServeRequests(subjects.ReqExecPolicyHashV1, func(_ bus.Message) (interface{}, error) {
		hash, version := source()
		return types.PolicyHashReply{
			PolicyHash:    hash,
			PolicyVersion: version,
			Timestamp:     time.Now().UnixMilli(),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	logging.Policy("policy hash responder serving on %s", subjects.ReqExecPolicyHashV1)
	return sub, nil
}
