package photowall

// Registry tracks in-flight tasks. It is owned by the loop goroutine.
type Registry struct {
	tasks map[uint64]*Task
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[uint64]*Task)}
}

func (r *Registry) Add(t *Task) {
	r.tasks[t.id] = t
}

func (r *Registry) Remove(t *Task) bool {
	if _, ok := r.tasks[t.id]; !ok {
		return false
	}
	delete(r.tasks, t.id)
	return true
}

func (r *Registry) contains(t *Task) bool {
	_, ok := r.tasks[t.id]
	return ok
}

func (r *Registry) Len() int {
	return len(r.tasks)
}

// Drain empties the registry and returns what it held.
func (r *Registry) Drain() []*Task {
	out := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	r.tasks = make(map[uint64]*Task)
	return out
}
