package main

import (
	"context"
	"fmt"
	"log"

	"github.com/asaidimu/go-queryset/core/model"
	"github.com/asaidimu/go-queryset/core/queryset"
	"github.com/asaidimu/go-queryset/sqlite"
)

func contentModels() []*model.Model {
	status := &model.Model{
		Name:  "PublicationStatus",
		Table: "publication_statuses",
		Columns: []model.Column{
			{Name: "id", Type: model.TypeInteger, PrimaryKey: true},
			{Name: "code", Type: model.TypeText},
			{Name: "label", Type: model.TypeText},
		},
	}
	section := &model.Model{
		Name:  "Section",
		Table: "sections",
		Columns: []model.Column{
			{Name: "id", Type: model.TypeInteger, PrimaryKey: true},
			{Name: "title", Type: model.TypeText},
			{Name: "hidden", Type: model.TypeBoolean},
			{Name: "created_at", Type: model.TypeDateTime, Nullable: true},
			{Name: "status_id", Type: model.TypeInteger, Nullable: true},
		},
		Relationships: []model.Relationship{
			{Name: "subsections", Target: "Subsection", Cardinality: model.ToMany, LocalColumn: "id", RemoteColumn: "section_id"},
			{Name: "status", Target: "PublicationStatus", Cardinality: model.ToOne, LocalColumn: "status_id", RemoteColumn: "id"},
		},
	}
	subsection := &model.Model{
		Name:  "Subsection",
		Table: "subsections",
		Columns: []model.Column{
			{Name: "id", Type: model.TypeInteger, PrimaryKey: true},
			{Name: "title", Type: model.TypeText},
			{Name: "hidden", Type: model.TypeBoolean},
			{Name: "section_id", Type: model.TypeInteger},
			{Name: "status_id", Type: model.TypeInteger, Nullable: true},
		},
		Relationships: []model.Relationship{
			{Name: "section", Target: "Section", Cardinality: model.ToOne, LocalColumn: "section_id", RemoteColumn: "id"},
			{Name: "status", Target: "PublicationStatus", Cardinality: model.ToOne, LocalColumn: "status_id", RemoteColumn: "id"},
		},
	}
	return []*model.Model{status, section, subsection}
}

// sectionRepo scopes common section queries the way an application would:
// embed the repository and expose named querysets.
type sectionRepo struct {
	*queryset.Repository
}

func (r sectionRepo) Visible() *queryset.QuerySet {
	return r.Objects().Filter("hidden", false)
}

func (r sectionRepo) Published() *queryset.QuerySet {
	return r.Objects().Filter("status__code", "published")
}

func printSections(header string, sections []model.Entity) {
	fmt.Println("-------------------------------------------------------------------")
	fmt.Println(header)
	fmt.Println("-------------------------------------------------------------------")
	for _, s := range sections {
		fmt.Printf("%-4v %-30v hidden=%v\n", s["id"], s["title"], s["hidden"])
		if subs, ok := s["subsections"].([]model.Entity); ok {
			for _, sub := range subs {
				fmt.Printf("     - %-26v hidden=%v\n", sub["title"], sub["hidden"])
			}
		}
	}
	fmt.Println("-------------------------------------------------------------------")
}

func main() {
	ctx := context.Background()

	registry := model.NewRegistry()
	if err := registry.Register(contentModels()...); err != nil {
		log.Fatalf("Failed to register models: %v", err)
	}
	fmt.Println("Registered content models.")

	session, err := sqlite.Open(":memory:", registry, nil)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		if cErr := session.Close(); cErr != nil {
			log.Printf("Error closing database: %v", cErr)
		}
		fmt.Println("Database closed.")
	}()

	if err := session.CreateTables(ctx, "PublicationStatus", "Section", "Subsection"); err != nil {
		log.Fatalf("Failed to create tables: %v", err)
	}
	fmt.Println("Created tables.")

	sections, err := queryset.NewRepository("Section", queryset.Config{
		Registry: registry,
		Executor: session,
	})
	if err != nil {
		log.Fatalf("Failed to create section repository: %v", err)
	}
	subsections, err := queryset.NewRepository("Subsection", queryset.Config{
		Registry: registry,
		Executor: session,
		Bus:      nil,
	})
	if err != nil {
		log.Fatalf("Failed to create subsection repository: %v", err)
	}
	statuses, err := queryset.NewRepository("PublicationStatus", queryset.Config{
		Registry: registry,
		Executor: session,
	})
	if err != nil {
		log.Fatalf("Failed to create status repository: %v", err)
	}

	sections.Subscribe(queryset.EntityUpdateSuccess, func(ctx context.Context, event queryset.Event) error {
		fmt.Printf("Sections updated: %v\n", event.Output)
		return nil
	})

	fmt.Println("Inserting sample data...")
	published, err := statuses.Create(ctx, map[string]any{"code": "published", "label": "Published"})
	if err != nil {
		log.Fatalf("Failed to insert status: %v", err)
	}
	draft, err := statuses.Create(ctx, map[string]any{"code": "draft", "label": "Draft"})
	if err != nil {
		log.Fatalf("Failed to insert status: %v", err)
	}

	created, err := sections.BulkCreate(ctx, []map[string]any{
		{"title": "Getting Started", "hidden": false, "status_id": published["id"]},
		{"title": "Advanced Topics", "hidden": false, "status_id": published["id"]},
		{"title": "Internal Notes", "hidden": true, "status_id": draft["id"]},
	})
	if err != nil {
		log.Fatalf("Failed to insert sections: %v", err)
	}

	_, err = subsections.BulkCreate(ctx, []map[string]any{
		{"title": "Installation", "hidden": false, "section_id": created[0]["id"], "status_id": published["id"]},
		{"title": "Configuration", "hidden": false, "section_id": created[0]["id"], "status_id": published["id"]},
		{"title": "Scaling", "hidden": false, "section_id": created[1]["id"], "status_id": draft["id"]},
	})
	if err != nil {
		log.Fatalf("Failed to insert subsections: %v", err)
	}
	fmt.Println("Sample data inserted successfully.")

	// Substring search on the primary table; no joins involved.
	found, err := sections.Objects().Filter("title__icontains", "started").All(ctx)
	if err != nil {
		log.Fatalf("Search failed: %v", err)
	}
	printSections("Sections matching 'started'", found)

	// Eager-load subsections; sections without any keep an empty list.
	loaded, err := sections.Objects().
		OuterJoin("subsections").
		Options("subsections").
		OrderBy("title").
		All(ctx)
	if err != nil {
		log.Fatalf("Eager load failed: %v", err)
	}
	printSections("All sections with subsections", loaded)

	// Only sections that have no subsections at all.
	empty, err := sections.Objects().
		OuterJoin("subsections").
		Filter("subsections__id__isnull", true).
		All(ctx)
	if err != nil {
		log.Fatalf("Empty-section query failed: %v", err)
	}
	printSections("Sections without subsections", empty)

	// Pagination stays entity-based even when joins fan rows out.
	page, err := sections.Objects().
		OuterJoin("subsections").
		Options("subsections").
		OrderBy("title").
		Slice(0, 2).
		All(ctx)
	if err != nil {
		log.Fatalf("Paged query failed: %v", err)
	}
	printSections("First page (2 sections)", page)

	// Hide every draft section; the update targets primary keys found
	// through the joined filter.
	hidden, err := sections.Objects().
		Filter("status__code", "draft").
		Update(ctx, map[string]any{"hidden": true})
	if err != nil {
		log.Fatalf("Update failed: %v", err)
	}
	fmt.Printf("Hid %d draft section(s).\n", len(hidden))

	scoped := sectionRepo{sections}
	count, err := scoped.Visible().Count(ctx)
	if err != nil {
		log.Fatalf("Count failed: %v", err)
	}
	fmt.Printf("%d visible section(s) remain.\n", count)

	publishedCount, err := scoped.Published().Count(ctx)
	if err != nil {
		log.Fatalf("Count failed: %v", err)
	}
	fmt.Printf("%d published section(s).\n", publishedCount)

	titles, err := sections.Objects().OrderBy("title").ValuesList("title").Flat().AllFlat(ctx)
	if err != nil {
		log.Fatalf("Values list failed: %v", err)
	}
	fmt.Printf("Titles: %v\n", titles)
}
