package augment

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/fatih/color"

	"github.com/at-ishikawa/ankigen/internal/ankiconnect"
	"github.com/at-ishikawa/ankigen/internal/apkg"
	"github.com/at-ishikawa/ankigen/internal/collection"
	"github.com/at-ishikawa/ankigen/internal/inference"
)

// Options configures one augmentation run.
type Options struct {
	NoteType    string
	TargetField string
	Template    Template
	Workers     int
	DryRun      bool
}

// RunFile augments a package file: open, resolve, select, generate,
// write back, repackage. With DryRun it stops after the preview and
// writes nothing.
func RunFile(ctx context.Context, pkg *apkg.Package, client inference.Client, inputPath, outputPath string, opts Options) error {
	workingDB, err := pkg.Open(inputPath)
	if err != nil {
		return err
	}

	db, err := collection.Open(workingDB)
	if err != nil {
		return err
	}

	updates, err := func() ([]collection.Update, error) {
		defer func() {
			// The connection must be closed before the working database
			// file is compressed and re-archived.
			_ = db.Close()
		}()

		resolver := collection.NewResolver(db)
		noteTypeID, err := resolver.NoteTypeID(ctx, opts.NoteType)
		if err != nil {
			return nil, err
		}
		slog.Info("resolved note type", "name", opts.NoteType, "id", noteTypeID)

		fieldMap, err := resolver.FieldMap(ctx, noteTypeID)
		if err != nil {
			return nil, err
		}
		targetIndex, ok := fieldMap[opts.TargetField]
		if !ok {
			return nil, fmt.Errorf("target field %q not found in note type %q (available: %v)",
				opts.TargetField, opts.NoteType, fieldNames(fieldMap))
		}
		if err := opts.Template.Validate(fieldMap); err != nil {
			return nil, fmt.Errorf("%w (available: %v)", err, fieldNames(fieldMap))
		}

		notes, err := collection.NotesByType(ctx, db, noteTypeID)
		if err != nil {
			return nil, err
		}
		pending, done := collection.SelectPending(notes, fieldMap, opts.TargetField)
		slog.Info("selected notes", "total", len(notes), "pending", len(pending), "complete", len(done))

		if opts.DryRun {
			printPreview(pending, fieldMap, previewField(opts))
			return nil, nil
		}
		if len(pending) == 0 {
			return nil, nil
		}

		tasks := buildTasks(pending, fieldMap, opts)
		results := NewOrchestrator(client, opts.Workers).Run(ctx, tasks)

		arity := schemaArity(fieldMap)
		updates := make([]collection.Update, 0, len(results))
		now := time.Now().Unix()
		for _, note := range pending {
			value, ok := results[note.ID]
			if !ok {
				continue
			}
			values := collection.PadFields(note.SplitFields(), arity)
			values[targetIndex] = value
			updates = append(updates, collection.Update{
				NoteID: note.ID,
				Fields: collection.JoinFields(values),
				Mod:    now,
			})
		}

		if err := collection.ApplyUpdates(ctx, db, updates); err != nil {
			return nil, err
		}
		return updates, nil
	}()
	if err != nil {
		return err
	}
	if opts.DryRun {
		return nil
	}

	slog.Info("applied updates", "count", len(updates))
	return pkg.Close(outputPath)
}

// RunLive augments notes in a running Anki instance through
// AnkiConnect. Selection reuses the same partition logic as file mode;
// updates are applied one note at a time, accepting partial success.
func RunLive(ctx context.Context, anki *ankiconnect.Client, client inference.Client, opts Options) error {
	query := fmt.Sprintf("note:%q", opts.NoteType)
	noteIDs, err := anki.FindNotes(ctx, query)
	if err != nil {
		return err
	}
	if len(noteIDs) == 0 {
		slog.Info("no notes found", "query", query)
		return nil
	}
	slog.Info("fetching note details", "count", len(noteIDs))

	infos, err := anki.NotesInfo(ctx, noteIDs)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		return fmt.Errorf("AnkiConnect returned no note details for %d notes", len(noteIDs))
	}

	fieldMap := liveFieldMap(infos[0])
	if _, ok := fieldMap[opts.TargetField]; !ok {
		return fmt.Errorf("target field %q not found in note type %q (available: %v)",
			opts.TargetField, opts.NoteType, fieldNames(fieldMap))
	}
	if err := opts.Template.Validate(fieldMap); err != nil {
		return fmt.Errorf("%w (available: %v)", err, fieldNames(fieldMap))
	}

	notes := make([]collection.Note, 0, len(infos))
	for _, info := range infos {
		notes = append(notes, liveNote(info, fieldMap))
	}
	pending, done := collection.SelectPending(notes, fieldMap, opts.TargetField)
	slog.Info("selected notes", "total", len(notes), "pending", len(pending), "complete", len(done))

	if opts.DryRun {
		printPreview(pending, fieldMap, previewField(opts))
		return nil
	}
	if len(pending) == 0 {
		return nil
	}

	tasks := buildTasks(pending, fieldMap, opts)
	results := NewOrchestrator(client, opts.Workers).Run(ctx, tasks)
	if len(results) == 0 {
		slog.Info("no notes generated")
		return nil
	}

	// No batched update exists in the API, so notes are updated one by
	// one. Already-applied updates are kept when a later one fails.
	slog.Info("sending updates", "count", len(results))
	bar := pb.Full.Start(len(results))
	bar.Set(pb.CleanOnFinish, true)
	applied := 0
	for _, note := range pending {
		value, ok := results[note.ID]
		if !ok {
			continue
		}
		if err := anki.UpdateNoteFields(ctx, note.ID, map[string]string{opts.TargetField: value}); err != nil {
			slog.Warn("failed to update note", "noteID", note.ID, "error", err)
		} else {
			applied++
		}
		bar.Increment()
	}
	bar.Finish()

	slog.Info("applied updates", "count", applied, "failed", len(results)-applied)
	return nil
}

// liveFieldMap derives the positional field map from the field orders
// AnkiConnect reports.
func liveFieldMap(info ankiconnect.NoteInfo) collection.FieldMap {
	fieldMap := make(collection.FieldMap, len(info.Fields))
	for name, field := range info.Fields {
		fieldMap[name] = field.Order
	}
	return fieldMap
}

// liveNote rebuilds the delimited positional form from a notesInfo
// payload so live mode can reuse the file-mode selector.
func liveNote(info ankiconnect.NoteInfo, fieldMap collection.FieldMap) collection.Note {
	values := make([]string, schemaArity(fieldMap))
	for name, index := range fieldMap {
		if field, ok := info.Fields[name]; ok && index < len(values) {
			values[index] = field.Value
		}
	}
	return collection.Note{ID: info.NoteID, Fields: collection.JoinFields(values)}
}

// buildTasks turns pending notes into generation tasks. Field values
// are copied up front so workers only touch immutable data.
func buildTasks(pending []collection.Note, fieldMap collection.FieldMap, opts Options) []Task {
	preview := previewField(opts)
	arity := schemaArity(fieldMap)

	tasks := make([]Task, 0, len(pending))
	for _, note := range pending {
		values := collection.PadFields(note.SplitFields(), arity)
		substitutions := make(map[string]string, len(opts.Template.RequiredFields()))
		for _, field := range opts.Template.RequiredFields() {
			substitutions[field] = values[fieldMap[field]]
		}
		tasks = append(tasks, Task{
			NoteID: note.ID,
			Prompt: opts.Template.Fill(substitutions),
			Source: values[fieldMap[preview]],
		})
	}
	return tasks
}

// previewField picks the field shown in dry-run previews and logs: the
// first source field the prompt reads, else the target field.
func previewField(opts Options) string {
	if fields := opts.Template.RequiredFields(); len(fields) > 0 {
		return fields[0]
	}
	return opts.TargetField
}

func printPreview(pending []collection.Note, fieldMap collection.FieldMap, preview string) {
	header := color.New(color.Bold)
	header.Printf("--- Dry run: %d notes to be updated ---\n", len(pending))

	index := fieldMap[preview]
	arity := schemaArity(fieldMap)
	idColor := color.New(color.FgCyan)
	for _, note := range pending {
		values := collection.PadFields(note.SplitFields(), arity)
		fmt.Printf("%s | %s: %s\n", idColor.Sprintf("%d", note.ID), preview, truncate(values[index], previewLength))
	}
	fmt.Println("Dry run complete. No changes made.")
}

func schemaArity(fieldMap collection.FieldMap) int {
	arity := 0
	for _, index := range fieldMap {
		if index+1 > arity {
			arity = index + 1
		}
	}
	return arity
}

func fieldNames(fieldMap collection.FieldMap) []string {
	names := make([]string, 0, len(fieldMap))
	for name := range fieldMap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
