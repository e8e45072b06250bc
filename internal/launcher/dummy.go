package launcher

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DummyLauncher never runs anything. It is the backend dummy-run mode
// forces for every submission method; outside dummy-run mode it serves
// only tasks that name the "dummy" method.
type DummyLauncher struct{}

func (DummyLauncher) Submit(_ context.Context, _ bool, p Params) (Handle, error) {
	return Handle{ID: uuid.NewString(), Method: "dummy", Submitted: time.Now().UTC()}, nil
}
