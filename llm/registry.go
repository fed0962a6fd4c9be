package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/docqa/types"
)

// Registry 是按名称索引的后端静态注册表。
// 启动时构建，运行期只读。
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry 创建空注册表。
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Backend),
	}
}

// Register 注册一个后端，名称重复时返回错误。
func (r *Registry) Register(name string, backend Backend) error {
	if name == "" {
		return fmt.Errorf("backend name is empty")
	}
	if backend == nil {
		return fmt.Errorf("backend %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[name]; exists {
		return fmt.Errorf("backend %q already registered", name)
	}
	r.backends[name] = backend
	return nil
}

// Get 按名称查找后端。
func (r *Registry) Get(name string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	backend, ok := r.backends[name]
	if !ok {
		return nil, types.NewError(types.ErrProviderUnavailable,
			fmt.Sprintf("backend %q not registered", name))
	}
	return backend, nil
}

// Has 报告名称是否已注册。
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.backends[name]
	return ok
}

// Names 返回已注册的后端名称（按字典序）。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
