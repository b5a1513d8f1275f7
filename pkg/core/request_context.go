package core

import (
	"sync"
)

// RequestContext is a concurrency-safe key/value bag carried alongside a single
// connection. Handlers record outcomes in it and middleware reads them back.
type RequestContext struct {
	mu   sync.RWMutex
	data map[string]interface{}
}

// NewRequestContext creates an empty RequestContext
func NewRequestContext() *RequestContext {
	return &RequestContext{
		data: make(map[string]interface{}),
	}
}

// Set stores a value in the context
func (rc *RequestContext) Set(key string, value interface{}) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.data == nil {
		rc.data = make(map[string]interface{})
	}
	rc.data[key] = value
}

// Get retrieves a value from the context
func (rc *RequestContext) Get(key string) interface{} {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.data[key]
}

// GetString returns the value for key when it is a string, else "".
func (rc *RequestContext) GetString(key string) string {
	s, _ := rc.Get(key).(string)
	return s
}

// GetInt returns the value for key when it is an int, else 0.
func (rc *RequestContext) GetInt(key string) int {
	n, _ := rc.Get(key).(int)
	return n
}

// GetAll returns a copy of all stored data.
func (rc *RequestContext) GetAll() map[string]interface{} {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	result := make(map[string]interface{}, len(rc.data))
	for k, v := range rc.data {
		result[k] = v
	}
	return result
}
