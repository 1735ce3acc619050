package routing

import (
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	gocache "github.com/patrickmn/go-cache"
	"intelligent-router/internal/models"
)

// programCache holds compiled rule programs keyed by expression text.
// Rules sharing an expression share one program; programs are safe for
// concurrent runs.
type programCache struct {
	programs *gocache.Cache
}

func newProgramCache(ttl time.Duration) *programCache {
	return &programCache{
		programs: gocache.New(ttl, 2*ttl),
	}
}

// exprOptions type-checks against the payment attribute schema and keeps
// evaluation deterministic and bounded
func exprOptions() []expr.Option {
	return []expr.Option{
		expr.Env(models.PaymentAttributes{}),
		expr.AsBool(),
		expr.DisableBuiltin("now"),
		expr.DisableBuiltin("date"),
		expr.DisableBuiltin("repeat"),
	}
}

// compile returns the cached program for expression, compiling it on a miss
func (c *programCache) compile(expression string) (*vm.Program, error) {
	if cached, found := c.programs.Get(expression); found {
		return cached.(*vm.Program), nil
	}

	program, err := expr.Compile(expression, exprOptions()...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuleCompilationFailed, err)
	}

	c.programs.SetDefault(expression, program)
	return program, nil
}

// run evaluates program against attrs
func run(program *vm.Program, attrs models.PaymentAttributes) (bool, error) {
	output, err := expr.Run(program, attrs)
	if err != nil {
		return false, err
	}
	matched, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("rule returned %T, expected bool", output)
	}
	return matched, nil
}

// Flush drops every cached program
func (c *programCache) Flush() {
	c.programs.Flush()
}

// Len returns the number of cached programs
func (c *programCache) Len() int {
	return c.programs.ItemCount()
}
