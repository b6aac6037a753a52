package testhelpers

// LookupEnv returns a function with the signature of [os.LookupEnv] backed by env instead of the process
// environment, so that tests can run in parallel with their own configuration.
func LookupEnv(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}
