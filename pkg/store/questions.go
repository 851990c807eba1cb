package store

import (
	"slices"

	"github.com/aretw0/formtree/pkg/domain"
)

// AddQuestion appends a question to a service and returns its id, or "" if
// the service does not exist. The new question's order is the current count.
func (s *Store) AddQuestion(serviceID string, config map[string]any) string {
	c, ok := s.mutate(func(st *domain.FormState) (Change, bool) {
		svc, ok := st.Nodes[serviceID].(*domain.ServiceNode)
		if !ok {
			s.reject("addQuestion", "service", serviceID)
			return Change{}, false
		}
		id := s.newID()
		if config == nil {
			config = map[string]any{}
		}
		st.Questions[id] = &domain.Question{
			ID:        id,
			ServiceID: serviceID,
			Config:    domain.CloneMap(config),
			Order:     len(svc.QuestionIDs),
		}
		svc.QuestionIDs = append(slices.Clone(svc.QuestionIDs), id)
		return Change{Kind: domain.EventQuestionAdded, QuestionID: id, ServiceID: serviceID}, true
	})
	if !ok {
		return ""
	}
	return c.QuestionID
}

// DeleteQuestion removes a question from the table and from its service.
func (s *Store) DeleteQuestion(id string) bool {
	_, ok := s.mutate(func(st *domain.FormState) (Change, bool) {
		q, ok := st.Questions[id]
		if !ok {
			s.reject("deleteQuestion", "question", id)
			return Change{}, false
		}
		if svc, ok := st.Nodes[q.ServiceID].(*domain.ServiceNode); ok {
			svc.QuestionIDs = without(svc.QuestionIDs, id)
		}
		delete(st.Questions, id)
		return Change{Kind: domain.EventQuestionDeleted, QuestionID: id, ServiceID: q.ServiceID}, true
	})
	return ok
}

// UpdateQuestion replaces the configuration of a question.
func (s *Store) UpdateQuestion(id string, config map[string]any) bool {
	_, ok := s.mutate(func(st *domain.FormState) (Change, bool) {
		q, ok := st.Questions[id]
		if !ok {
			s.reject("updateQuestion", "question", id)
			return Change{}, false
		}
		q.Config = domain.CloneMap(config)
		if q.Config == nil {
			q.Config = map[string]any{}
		}
		return Change{Kind: domain.EventQuestionUpdated, QuestionID: id, ServiceID: q.ServiceID}, true
	})
	return ok
}

// ReplaceQuestion restores config and order of an existing question from prev.
func (s *Store) ReplaceQuestion(prev *domain.Question) bool {
	_, ok := s.mutate(func(st *domain.FormState) (Change, bool) {
		q, ok := st.Questions[prev.ID]
		if !ok || q.ServiceID != prev.ServiceID {
			s.reject("replaceQuestion", "question", prev.ID)
			return Change{}, false
		}
		q.Config = domain.CloneMap(prev.Config)
		q.Order = prev.Order
		return Change{Kind: domain.EventQuestionUpdated, QuestionID: q.ID, ServiceID: q.ServiceID}, true
	})
	return ok
}

// RestoreQuestion re-inserts a deleted question at index within its service.
func (s *Store) RestoreQuestion(q *domain.Question, index int) bool {
	_, ok := s.mutate(func(st *domain.FormState) (Change, bool) {
		svc, ok := st.Nodes[q.ServiceID].(*domain.ServiceNode)
		if !ok {
			s.reject("restoreQuestion", "question", q.ID, "service", q.ServiceID)
			return Change{}, false
		}
		if _, taken := st.Questions[q.ID]; taken {
			s.reject("restoreQuestion", "question", q.ID, "reason", "id in use")
			return Change{}, false
		}
		st.Questions[q.ID] = q.Clone()
		svc.QuestionIDs = insertAt(svc.QuestionIDs, q.ID, index)
		return Change{Kind: domain.EventQuestionAdded, QuestionID: q.ID, ServiceID: q.ServiceID}, true
	})
	return ok
}

// ReorderQuestions sets the question sequence of a service. orderedIDs must
// be a permutation of the current list; each order becomes its position.
func (s *Store) ReorderQuestions(serviceID string, orderedIDs []string) bool {
	orders := make(map[string]int, len(orderedIDs))
	for i, id := range orderedIDs {
		orders[id] = i
	}
	return s.setQuestionOrder("reorderQuestions", serviceID, orderedIDs, orders)
}

// RestoreQuestionOrder puts back a sequence and per-question orders captured earlier.
func (s *Store) RestoreQuestionOrder(serviceID string, ids []string, orders map[string]int) bool {
	return s.setQuestionOrder("restoreQuestionOrder", serviceID, ids, orders)
}

func (s *Store) setQuestionOrder(op, serviceID string, ids []string, orders map[string]int) bool {
	_, ok := s.mutate(func(st *domain.FormState) (Change, bool) {
		svc, ok := st.Nodes[serviceID].(*domain.ServiceNode)
		if !ok {
			s.reject(op, "service", serviceID)
			return Change{}, false
		}
		if !IsPermutation(svc.QuestionIDs, ids) {
			s.reject(op, "service", serviceID, "reason", "not a permutation of the current questions")
			return Change{}, false
		}
		svc.QuestionIDs = slices.Clone(ids)
		for _, id := range ids {
			if q, ok := st.Questions[id]; ok {
				q.Order = orders[id]
			}
		}
		return Change{Kind: domain.EventQuestionReordered, ServiceID: serviceID}, true
	})
	return ok
}

// IsPermutation reports whether b holds exactly the elements of a, each once.
func IsPermutation(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	want := make(map[string]int, len(a))
	for _, id := range a {
		want[id]++
	}
	for _, id := range b {
		if want[id] == 0 {
			return false
		}
		want[id]--
	}
	return true
}
