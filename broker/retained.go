package broker

import "github.com/gonzalop/edgemqtt/session"

// retainedStore maps an exact topic name to its last retained publication.
// It is owned exclusively by the hub loop, same as the session map and
// subscription trie — no lock needed.
type retainedStore struct {
	byTopic map[string]session.Publication
}

func newRetainedStore() *retainedStore {
	return &retainedStore{byTopic: make(map[string]session.Publication)}
}

// update applies pub's retain semantics: a zero-length payload removes the
// topic's retained entry, a non-empty payload replaces it.
func (r *retainedStore) update(pub session.Publication) {
	if len(pub.Payload) == 0 {
		delete(r.byTopic, pub.Topic)
		return
	}
	r.byTopic[pub.Topic] = pub
}

// matching returns every retained publication whose topic matches filter.
func (r *retainedStore) matching(match func(filter, topic string) bool, filter string) []session.Publication {
	var out []session.Publication
	for topicName, pub := range r.byTopic {
		if match(filter, topicName) {
			out = append(out, pub)
		}
	}
	return out
}
