package specialize

import (
	"context"
	"fmt"
	"maps"
	"runtime/debug"
	"slices"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"genspec/internal/reabstract"
	"genspec/internal/sil"
	"genspec/internal/trace"
	"genspec/internal/typeref"
)

// Result summarizes one specializer run.
type Result struct {
	Rounds int
	// Converged is false when MaxRounds stopped the worklist early.
	Converged bool
	Sites     int
	Created   []*Entry
	Linked    []*Entry
	Thunks    []*sil.Function
	Skipped   map[SkipReason]int
}

// KeptPublic lists the specializations exported from the support module.
func (r *Result) KeptPublic() []*Entry {
	var out []*Entry
	for _, e := range r.Created {
		if e.KeptPublic {
			out = append(out, e)
		}
	}
	return out
}

// Specializer rewrites a module's generic call sites.
type Specializer struct {
	Module *sil.Module
	Opts   Options
	Cache  *Cache
}

func New(m *sil.Module, opts Options, oracle reabstract.LayoutOracle, resolver typeref.WitnessResolver) *Specializer {
	opts = opts.normalized()
	return &Specializer{Module: m, Opts: opts, Cache: NewCache(m, opts, oracle, resolver)}
}

// SpecializeModule runs a fresh Specializer over m.
func SpecializeModule(ctx context.Context, m *sil.Module, opts Options, oracle reabstract.LayoutOracle, resolver typeref.WitnessResolver) (*Result, error) {
	return New(m, opts, oracle, resolver).Run(ctx)
}

// funcReport is what one worker found or changed in one function.
type funcReport struct {
	fn      *sil.Function
	sites   []site
	skipped map[SkipReason]int
	thunks  []*sil.Function
}

// Run specializes in rounds. Each round first resolves the call sites of
// its functions against the cache in parallel, reading bodies only, then
// rewrites each function in parallel, each worker touching one body.
// Functions created by a round form the next round's worklist.
func (s *Specializer) Run(ctx context.Context) (*Result, error) {
	tr := trace.FromContext(ctx)
	span := trace.Begin(tr, trace.ScopeDriver, "specialize", trace.ParentSpan(ctx))
	span.WithField("module", s.Module.Name).WithField("level", s.Opts.Level.String())
	defer span.End("")
	ctx = trace.WithSpan(ctx, span)

	res := &Result{Skipped: make(map[SkipReason]int)}
	if s.Opts.Level == OptNone {
		trace.Point(tr, trace.ScopeDriver, span.ID(), "skip:"+SkipOptNone.String(), s.Module.Name)
		res.Converged = true
		return res, nil
	}

	seen := make(map[*sil.Function]bool)
	work := s.pending(seen)
	for len(work) > 0 {
		if res.Rounds == s.Opts.MaxRounds {
			trace.Point(tr, trace.ScopePass, span.ID(), "max-rounds", strconv.Itoa(len(work)))
			break
		}
		res.Rounds++
		if err := s.round(ctx, res, work); err != nil {
			return nil, err
		}
		work = s.pending(seen)
	}
	res.Converged = len(work) == 0

	for _, e := range s.Cache.Entries() {
		switch {
		case e.Linked:
			res.Linked = append(res.Linked, e)
		case e.Created:
			res.Created = append(res.Created, e)
		}
	}
	span.WithField("created", strconv.Itoa(len(res.Created))).
		WithField("thunks", strconv.Itoa(len(res.Thunks))).
		WithField("rounds", strconv.Itoa(res.Rounds))
	return res, nil
}

// pending returns the functions with bodies not visited yet, in module
// order, and marks them visited. Generic bodies are included so that their
// fully concrete call sites are specialized too.
func (s *Specializer) pending(seen map[*sil.Function]bool) []*sil.Function {
	var out []*sil.Function
	for _, f := range s.Module.Functions() {
		if seen[f] || f.IsExternalDeclaration() {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func (s *Specializer) round(ctx context.Context, res *Result, work []*sil.Function) error {
	tr := trace.FromContext(ctx)
	span := trace.Begin(tr, trace.ScopePass, "round "+strconv.Itoa(res.Rounds), trace.ParentSpan(ctx))
	span.WithField("functions", strconv.Itoa(len(work)))
	defer span.End("")
	ctx = trace.WithSpan(ctx, span)

	reports := make([]*funcReport, len(work))
	err := s.parallel(ctx, len(work), func(ctx context.Context, i int) error {
		rep, err := s.collect(ctx, work[i])
		reports[i] = rep
		return err
	})
	if err != nil {
		return err
	}
	err = s.parallel(ctx, len(work), func(ctx context.Context, i int) error {
		s.rewriteFunction(ctx, reports[i])
		return nil
	})
	if err != nil {
		return err
	}

	sites := 0
	for _, rep := range reports {
		sites += len(rep.sites)
		res.Thunks = append(res.Thunks, rep.thunks...)
		for reason, n := range rep.skipped {
			res.Skipped[reason] += n
		}
	}
	res.Sites += sites
	span.WithField("sites", strconv.Itoa(sites))
	return nil
}

// parallel runs fn for 0..n-1 on at most Jobs goroutines. A panic in a
// worker is re-raised on the calling goroutine after the others finish.
func (s *Specializer) parallel(ctx context.Context, n int, fn func(context.Context, int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Opts.Jobs)
	var (
		once     sync.Once
		panicked any
		stack    []byte
	)
	for i := range n {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					once.Do(func() { panicked, stack = r, debug.Stack() })
					err = fmt.Errorf("specialize: worker panicked: %v", r)
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i)
		})
	}
	err := g.Wait()
	if panicked != nil {
		panic(&WorkerPanic{Value: panicked, Stack: stack})
	}
	return err
}

// WorkerPanic carries a panic raised inside a parallel worker.
type WorkerPanic struct {
	Value any
	Stack []byte
}

func (p *WorkerPanic) Error() string {
	return fmt.Sprintf("%v", p.Value)
}

// Unwrap exposes a panic value that is itself an error.
func (p *WorkerPanic) Unwrap() error {
	if err, ok := p.Value.(error); ok {
		return err
	}
	return nil
}

// collect resolves every generic apply site of fn against the cache. fn's
// body is only read.
func (s *Specializer) collect(ctx context.Context, fn *sil.Function) (*funcReport, error) {
	tr := trace.FromContext(ctx)
	parent := trace.ParentSpan(ctx)
	rep := &funcReport{fn: fn, skipped: make(map[SkipReason]int)}
	for _, in := range fn.Instrs() {
		if !in.Op.IsApplySite() || len(in.Subs) == 0 {
			continue
		}
		// Sites that depend on fn's own parameters are resolved in fn's
		// specializations.
		if fn.IsGeneric() && !in.Subs.IsConcrete() {
			continue
		}
		callee := calleeFunction(in)
		if callee == nil {
			rep.skipped[SkipDynamicCallee]++
			trace.Point(tr, trace.ScopeSite, parent, "skip:"+SkipDynamicCallee.String(), fn.Name, "op", in.Op.String())
			continue
		}
		if !callee.IsGeneric() {
			continue
		}
		entry, reason, err := s.Cache.GetOrCreate(callee, in.Subs)
		if err != nil {
			return rep, err
		}
		if entry == nil {
			rep.skipped[reason]++
			trace.Point(tr, trace.ScopeSite, parent, "skip:"+reason.String(), callee.Name,
				"caller", fn.Name, "subs", in.Subs.String())
			continue
		}
		rep.sites = append(rep.sites, site{instr: in, entry: entry})
		decision := "reuse"
		switch {
		case entry.Linked:
			decision = "link-prespecialized"
		case entry.Created && entry.KeptPublic:
			decision = "keep-specialization"
		case entry.Created:
			decision = "specialize"
		}
		trace.Point(tr, trace.ScopeSite, parent, decision, callee.Name,
			"caller", fn.Name, "key", entry.Key, "plan", entry.Plan.String())
	}
	return rep, nil
}

func calleeFunction(in *sil.Instr) *sil.Function {
	if in.Callee == nil || in.Callee.Def == nil || in.Callee.Def.Op != sil.OpFunctionRef {
		return nil
	}
	return in.Callee.Def.Func
}

func (s *Specializer) rewriteFunction(ctx context.Context, rep *funcReport) {
	if len(rep.sites) == 0 {
		return
	}
	tr := trace.FromContext(ctx)
	span := trace.Begin(tr, trace.ScopeFunction, rep.fn.Name, trace.ParentSpan(ctx))
	defer span.End("")

	rw := newRewriter(s.Module, rep.fn)
	for _, st := range rep.sites {
		if rw.rewrite(st) {
			trace.Point(tr, trace.ScopeSite, span.ID(), "thunk", ThunkName(st.entry), "caller", rep.fn.Name)
		}
	}
	rw.finish()
	rep.thunks = rw.thunks
	span.WithField("sites", strconv.Itoa(len(rep.sites)))
}

// SkipCounts returns the skip reasons in a stable order.
func (r *Result) SkipCounts() []SkipReason {
	return slices.Sorted(maps.Keys(r.Skipped))
}
