package webhook

import (
	"context"
	"fmt"
	"os"
	"time"
)

// DefaultReplayMaxAge bounds how old a stored signature may be. The provider
// keeps events for 30 days.
const DefaultReplayMaxAge = 30 * 24 * time.Hour

// ReplayFile feeds a stored notification body through p with the signature
// header it was originally delivered with. The signature is still checked
// against the webhook secret, but may be up to maxAge old (zero selects
// DefaultReplayMaxAge).
func ReplayFile(ctx context.Context, p *Processor, path, signature string, maxAge time.Duration) (Response, error) {
	if maxAge <= 0 {
		maxAge = DefaultReplayMaxAge
	}
	info, err := os.Stat(path)
	if err != nil {
		return Response{}, fmt.Errorf("stat payload: %w", err)
	}
	if info.Size() > bodyLimit {
		return Response{}, fmt.Errorf("payload %s exceeds %d bytes", path, bodyLimit)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return Response{}, fmt.Errorf("read payload: %w", err)
	}
	return p.Process(ctx, RawRequest{
		Body:      body,
		Signature: signature,
		ActorID:   "replay",
		Path:      "replay:" + path,
		Tolerance: maxAge,
	}), nil
}
