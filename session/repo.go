package session

// Repo is the key/value port the Store persists through. Implementations
// must be safe for concurrent use. Get returns false when the key is not
// present.
type Repo interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
}
