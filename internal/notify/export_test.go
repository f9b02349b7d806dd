package notify

// TopicCount returns the number of tracked topics, open or closed.
func (b *Broker) TopicCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}
