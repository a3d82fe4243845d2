package daemon

import (
	"errors"
	"strings"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/config"
	sharederrors "github.com/desduvauchelle/tamias-sub001/internal/shared/errors"
)

// Candidate is one (connection, model) pair to attempt.
type Candidate struct {
	Ref          string
	ConnectionID string
	Model        string
	Connection   config.Connection
}

// BuildCandidateChain orders the user's default-model priority list, then the
// session's requested model, then every configured model. The first
// occurrence of a ref wins and refs whose connection is not configured are
// dropped.
func BuildCandidateChain(catalog ports.ModelCatalog, requested string) []Candidate {
	if catalog == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var chain []Candidate
	add := func(ref string) {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return
		}
		if _, dup := seen[ref]; dup {
			return
		}
		seen[ref] = struct{}{}
		connID, model, ok := config.SplitModelRef(ref)
		if !ok {
			return
		}
		conn, ok := catalog.Connection(connID)
		if !ok {
			return
		}
		chain = append(chain, Candidate{Ref: ref, ConnectionID: connID, Model: model, Connection: conn})
	}

	for _, ref := range catalog.DefaultModelPriority() {
		add(ref)
	}
	add(requested)
	for _, ref := range catalog.ConfiguredModels() {
		add(ref)
	}
	return chain
}

func classifyConstruction(err error) FailureReason {
	if errors.Is(err, ports.ErrProviderConfig) {
		return ReasonConfig
	}
	return ReasonConstruction
}

func classifyCall(err error) FailureReason {
	if errors.Is(err, ports.ErrProviderConfig) {
		return ReasonConfig
	}
	if sharederrors.IsTransient(err) {
		return ReasonTransport
	}
	return ReasonProvider
}
