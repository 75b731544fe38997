package testutil

import (
	"sync"
	"testing"

	"github.com/vocdoni/davinci-publisher/circuits/isodd"
	"github.com/vocdoni/davinci-publisher/prover"
	"github.com/vocdoni/davinci-publisher/seal"
	"github.com/vocdoni/davinci-publisher/verifier"
)

// VerifierVersion is the selector version used by test fixtures.
const VerifierVersion = 1

// IsOdd bundles a local prover for the is-odd program with the matching
// verifier router and selector registry.
type IsOdd struct {
	ID       prover.ProgramID
	Prover   *prover.Local
	Router   *verifier.Router
	Registry *seal.Registry
}

var (
	isOddOnce sync.Once
	isOdd     *IsOdd
	isOddErr  error
)

// IsOddFixture returns a process-wide is-odd fixture, so that the Groth16
// setup runs once per test binary.
func IsOddFixture(t testing.TB) *IsOdd {
	t.Helper()
	isOddOnce.Do(func() {
		id := prover.ProgramIDFromName(isodd.Name)
		var l *prover.Local
		if l, isOddErr = prover.NewLocal("", isodd.Program{}); isOddErr != nil {
			return
		}
		router, registry, err := verifier.FromLocal(l, VerifierVersion, id)
		if err != nil {
			isOddErr = err
			return
		}
		isOdd = &IsOdd{ID: id, Prover: l, Router: router, Registry: registry}
	})
	if isOddErr != nil {
		t.Fatalf("is-odd fixture: %v", isOddErr)
	}
	return isOdd
}
