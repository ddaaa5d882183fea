package hashstore

// chainLength returns the number of entries in the ring holding key.
func (s *Store) chainLength(key []byte) int {
	head := s.buckets[s.bucket(s.hasher.Sum(key))]
	if head == nil {
		return 0
	}
	n := 1
	for target := head.next; target != head; target = target.next {
		n++
	}
	return n
}
