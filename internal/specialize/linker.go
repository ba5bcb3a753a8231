package specialize

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"genspec/internal/mangle"
	"genspec/internal/reabstract"
	"genspec/internal/sil"
)

// IsWhitelisted reports whether the demangled specialization names an
// entity of core that appears in whitelist. The entity must start right
// after "of <core>." and must not continue with a letter, so "Array"
// matches "Array.append" but not "Arrayish".
func IsWhitelisted(demangled, core string, whitelist []string) bool {
	pos := strings.Index(demangled, "generic ")
	if pos < 0 {
		return false
	}
	ofCore := "of " + core + "."
	rel := strings.Index(demangled[pos:], ofCore)
	if rel < 0 {
		return false
	}
	rest := demangled[pos+rel+len(ofCore):]
	for _, name := range whitelist {
		if !strings.HasPrefix(rest, name) {
			continue
		}
		next, _ := utf8.DecodeRuneInString(rest[len(name):])
		if next == utf8.RuneError || !unicode.IsLetter(next) {
			return true
		}
	}
	return false
}

// linker decides when a specialization is bound to a symbol exported by a
// dependency instead of being cloned, and which new specializations are
// kept public for export.
type linker struct {
	opts   Options
	module *sil.Module
}

func (l *linker) whitelisted(symbol string) bool {
	demangled, err := mangle.Demangle(symbol)
	if err != nil {
		return false
	}
	return IsWhitelisted(demangled, l.opts.CoreModule, l.opts.Whitelist)
}

// lookupPrespecialized returns a declaration of the prespecialized symbol
// when orig comes from the core library, the module is built at debug
// level, the symbol is whitelisted and a dependency exports it. The
// declaration is added to the module once.
func (l *linker) lookupPrespecialized(orig *sil.Function, symbol string, plan *reabstract.Plan) (*sil.Function, bool) {
	if l.opts.Level != OptDebug || orig.ID.Module != l.opts.CoreModule {
		return nil, false
	}
	if l.opts.Exports == nil || !l.whitelisted(symbol) || !l.opts.Exports.Contains(symbol) {
		return nil, false
	}
	decl := sil.NewFunction(symbol, orig.ID, plan.Specialized, sil.LinkagePublicExternal)
	decl.NoInline = true
	decl.KeepAsPublic = true
	decl.SpecializedFrom = orig
	fn, _ := l.module.AddFunctionIfAbsent(decl)
	return fn, true
}

// keepAsPublic marks a freshly cloned specialization of the support module
// for export without changing its linkage. It reports whether f was marked.
func (l *linker) keepAsPublic(f *sil.Function) bool {
	if l.opts.Level != OptSpeed || l.module.Name != l.opts.SupportModule {
		return false
	}
	if f.Linkage.IsPublic() || !l.whitelisted(f.Name) {
		return false
	}
	f.KeepAsPublic = true
	f.NoInline = true
	return true
}
