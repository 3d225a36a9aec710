package lever

const moduleName = "lever"

// DefaultSupportedLevers is the discrete set of leverage multiples accepted
// when the engine is not configured otherwise.
var DefaultSupportedLevers = []uint64{2, 3}
