/*
Package formtree is the editing core of a booking-form builder.

A form is a tree of typed nodes (a root, groups, and services) plus questions
owned by services. The Editor owns one form and routes every change through a
bounded undo/redo command stack. Around that it provides memoized views, a
typed event bus, debounced autosave with retry, rule-based validation, and
optional reconciliation with a remote copy.

# Concept

The host supplies two callbacks and nothing else: a SaveFunc that persists a
snapshot, and optionally a SyncFunc that exchanges the local form for the
remote one. Everything the editor does is observable on the event bus.

# Usage

	ed, err := formtree.New(initialJSON,
		formtree.WithSave(func(ctx context.Context, st *domain.FormState) error {
			return store.Save(ctx, st)
		}),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer ed.Close()

	svc, _ := ed.AddNode(ctx, ed.RootID(), &domain.ServiceNode{Label: "Haircut"})
	_, _ = ed.AddQuestion(ctx, svc, map[string]any{"label": "Your name?"})
	_ = ed.Undo(ctx)

Initial data may be a *domain.FormState, a legacy or current JSON document, or
its decoded map form. Legacy documents are migrated once on construction.
*/
package formtree
