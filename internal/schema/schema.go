// Package schema validates submission requests against an embedded CUE
// schema before any record is created. Validation failures surface as
// Validation errors carrying the first CUE error's position.
package schema

import (
	"encoding/json"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	_ "embed"

	"github.com/roach88/specmut/internal/mutation"
)

//go:embed schema.cue
var schemaSource string

var (
	compileOnce sync.Once
	compiled    cue.Value
	compileErr  error
)

// requestSchema compiles the embedded schema once. A cue.Context is not
// safe to share with values from other contexts, so the package keeps
// its own.
func requestSchema() (cue.Value, error) {
	compileOnce.Do(func() {
		ctx := cuecontext.New()
		v := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
		if err := v.Err(); err != nil {
			compileErr = fmt.Errorf("compile request schema: %w", err)
			return
		}
		compiled = v.LookupPath(cue.ParsePath("#Request"))
		if err := compiled.Err(); err != nil {
			compileErr = fmt.Errorf("lookup #Request: %w", err)
		}
	})
	return compiled, compileErr
}

// ValidateRequest checks a submission request against the schema.
// Returns nil when the request conforms, a Validation error when it
// does not.
func ValidateRequest(req mutation.Request) error {
	schemaVal, err := requestSchema()
	if err != nil {
		return err
	}

	// Round-trip through JSON so the CUE value sees exactly the wire
	// shape of the request.
	encoded, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	ctx := schemaVal.Context()
	reqVal := ctx.CompileBytes(encoded, cue.Filename("request.json"))
	if err := reqVal.Err(); err != nil {
		return mutation.NewValidation(firstMessage(err))
	}

	unified := schemaVal.Unify(reqVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return mutation.NewValidation(firstMessage(err))
	}
	return nil
}

// firstMessage flattens a CUE error list to its first message with
// position info when available.
func firstMessage(err error) string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err.Error()
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 && positions[0].IsValid() {
		return fmt.Sprintf("%s: %s", positions[0], first.Error())
	}
	return first.Error()
}
