package layout

// Target describes the pointer properties of the ABI being laid out.
type Target struct {
	Triple   string // e.g. "x86_64-linux-gnu"
	PtrSize  int    // bytes
	PtrAlign int    // bytes
}

func X86_64LinuxGNU() Target {
	return Target{
		Triple:   "x86_64-linux-gnu",
		PtrSize:  8,
		PtrAlign: 8,
	}
}

func ARM64AppleMacOS() Target {
	return Target{
		Triple:   "arm64-apple-macosx",
		PtrSize:  8,
		PtrAlign: 8,
	}
}

// TargetByTriple returns a known target, falling back to x86_64.
func TargetByTriple(triple string) (Target, bool) {
	switch triple {
	case "", "x86_64-linux-gnu":
		return X86_64LinuxGNU(), true
	case "arm64-apple-macosx":
		return ARM64AppleMacOS(), true
	default:
		return X86_64LinuxGNU(), false
	}
}
