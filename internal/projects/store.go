// Package projects persists the project, component, and task hierarchy.
package projects

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	platformerrors "github.com/11bztaylor/TaylorDashv1-sub001/internal/errors"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/models"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/storage"
)

// ListFilter selects a project page.
type ListFilter struct {
	Status models.ProjectStatus
	Limit  int
	Offset int
}

func (f ListFilter) normalize() ListFilter {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 1000 {
		f.Limit = 1000
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Store persists the project hierarchy on PostgreSQL.
type Store struct {
	db *storage.Store
}

// NewStore wires the project tables.
func NewStore(db *storage.Store) *Store {
	return &Store{db: db}
}

const projectColumns = `id, name, COALESCE(description, ''), status, owner_id, metadata, created_at, updated_at`

func scanProject(row interface{ Scan(dest ...interface{}) error }) (*models.Project, error) {
	var p models.Project
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.OwnerID,
		&p.Metadata, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if storage.IsNoRows(err) {
			return nil, platformerrors.NotFound("projects.store", "project")
		}
		return nil, platformerrors.Internal("projects.store", err)
	}
	return &p, nil
}

// Create inserts a project. Name is required; status defaults to new.
func (s *Store) Create(ctx context.Context, p *models.Project) (*models.Project, error) {
	const op = "projects.create"

	if p.Name == "" {
		return nil, platformerrors.Validation(op, fmt.Errorf("name is required")).WithField("name", "required")
	}
	if p.Status == "" {
		p.Status = models.ProjectNew
	}
	if !models.ValidProjectStatus(p.Status) {
		return nil, platformerrors.Validation(op, fmt.Errorf("status %q is not one of new, active, completed, archived", p.Status)).
			WithField("status", "invalid")
	}

	p.ID = uuid.NewString()
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.Execute(ctx, `
		INSERT INTO projects (id, name, description, status, owner_id, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		p.ID, p.Name, p.Description, p.Status, p.OwnerID, p.Metadata, now)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns one project.
func (s *Store) Get(ctx context.Context, id string) (*models.Project, error) {
	row := s.db.FetchRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	return scanProject(row)
}

// List returns a page of projects plus the filtered total.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]models.Project, int, error) {
	filter = filter.normalize()

	where := ""
	args := []interface{}{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = " WHERE status = $1"
	}

	var total int
	if err := s.db.FetchRow(ctx, `SELECT COUNT(*) FROM projects`+where, args...).Scan(&total); err != nil {
		return nil, 0, platformerrors.Internal("projects.list", err)
	}

	args = append(args, filter.Limit)
	limitPos := len(args)
	args = append(args, filter.Offset)

	rows, err := s.db.FetchRows(ctx, fmt.Sprintf(
		`SELECT %s FROM projects%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		projectColumns, where, limitPos, limitPos+1), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	projects := []models.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, 0, err
		}
		projects = append(projects, *p)
	}
	return projects, total, rows.Err()
}

// Update replaces the mutable project fields.
func (s *Store) Update(ctx context.Context, id string, p *models.Project) (*models.Project, error) {
	const op = "projects.update"

	if p.Status != "" && !models.ValidProjectStatus(p.Status) {
		return nil, platformerrors.Validation(op, fmt.Errorf("status %q is not one of new, active, completed, archived", p.Status)).
			WithField("status", "invalid")
	}

	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Name != "" {
		existing.Name = p.Name
	}
	if p.Description != "" {
		existing.Description = p.Description
	}
	if p.Status != "" {
		existing.Status = p.Status
	}
	if p.Metadata != nil {
		existing.Metadata = p.Metadata
	}
	existing.UpdatedAt = time.Now().UTC()

	_, err = s.db.Execute(ctx, `
		UPDATE projects SET name = $2, description = $3, status = $4, metadata = $5, updated_at = $6
		WHERE id = $1`,
		id, existing.Name, existing.Description, existing.Status, existing.Metadata, existing.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return existing, nil
}

// Delete removes a project; components, tasks, and dependencies cascade.
func (s *Store) Delete(ctx context.Context, id string) error {
	affected, err := s.db.Execute(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return platformerrors.NotFound("projects.delete", "project")
	}
	return nil
}

const componentColumns = `id, project_id, name, COALESCE(type, ''), COALESCE(status, ''),
	progress, position, metadata, created_at, updated_at`

func scanComponent(row interface{ Scan(dest ...interface{}) error }) (*models.Component, error) {
	var c models.Component
	err := row.Scan(&c.ID, &c.ProjectID, &c.Name, &c.Type, &c.Status, &c.Progress,
		&c.Position, &c.Metadata, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if storage.IsNoRows(err) {
			return nil, platformerrors.NotFound("projects.store", "component")
		}
		return nil, platformerrors.Internal("projects.store", err)
	}
	return &c, nil
}

// CreateComponent adds a component to a project. Progress must be 0..100.
func (s *Store) CreateComponent(ctx context.Context, c *models.Component) (*models.Component, error) {
	const op = "projects.create_component"

	if c.Name == "" {
		return nil, platformerrors.Validation(op, fmt.Errorf("name is required")).WithField("name", "required")
	}
	if c.Progress < 0 || c.Progress > 100 {
		return nil, platformerrors.Validation(op, fmt.Errorf("progress must be between 0 and 100")).
			WithField("progress", "out of range")
	}
	if _, err := s.Get(ctx, c.ProjectID); err != nil {
		return nil, err
	}

	c.ID = uuid.NewString()
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := s.db.Execute(ctx, `
		INSERT INTO components (id, project_id, name, type, status, progress, position, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		c.ID, c.ProjectID, c.Name, c.Type, c.Status, c.Progress, c.Position, c.Metadata, now)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListComponents returns a project's components.
func (s *Store) ListComponents(ctx context.Context, projectID string) ([]models.Component, error) {
	rows, err := s.db.FetchRows(ctx,
		`SELECT `+componentColumns+` FROM components WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	components := []models.Component{}
	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			return nil, err
		}
		components = append(components, *c)
	}
	return components, rows.Err()
}

// GetComponent returns one component.
func (s *Store) GetComponent(ctx context.Context, id string) (*models.Component, error) {
	row := s.db.FetchRow(ctx, `SELECT `+componentColumns+` FROM components WHERE id = $1`, id)
	return scanComponent(row)
}

// UpdateComponent replaces mutable component fields.
func (s *Store) UpdateComponent(ctx context.Context, id string, c *models.Component) (*models.Component, error) {
	const op = "projects.update_component"

	if c.Progress < 0 || c.Progress > 100 {
		return nil, platformerrors.Validation(op, fmt.Errorf("progress must be between 0 and 100")).
			WithField("progress", "out of range")
	}

	existing, err := s.GetComponent(ctx, id)
	if err != nil {
		return nil, err
	}

	if c.Name != "" {
		existing.Name = c.Name
	}
	if c.Type != "" {
		existing.Type = c.Type
	}
	if c.Status != "" {
		existing.Status = c.Status
	}
	existing.Progress = c.Progress
	if c.Position != nil {
		existing.Position = c.Position
	}
	if c.Metadata != nil {
		existing.Metadata = c.Metadata
	}
	existing.UpdatedAt = time.Now().UTC()

	_, err = s.db.Execute(ctx, `
		UPDATE components SET name = $2, type = $3, status = $4, progress = $5,
			position = $6, metadata = $7, updated_at = $8
		WHERE id = $1`,
		id, existing.Name, existing.Type, existing.Status, existing.Progress,
		existing.Position, existing.Metadata, existing.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return existing, nil
}

// DeleteComponent removes a component; its tasks and dependency edges cascade.
func (s *Store) DeleteComponent(ctx context.Context, id string) error {
	affected, err := s.db.Execute(ctx, `DELETE FROM components WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return platformerrors.NotFound("projects.delete_component", "component")
	}
	return nil
}

const taskColumns = `id, component_id, name, COALESCE(description, ''), COALESCE(status, ''),
	assignee_id, due_at, completed_at, created_at, updated_at`

func scanTask(row interface{ Scan(dest ...interface{}) error }) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.ComponentID, &t.Name, &t.Description, &t.Status,
		&t.AssigneeID, &t.DueAt, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if storage.IsNoRows(err) {
			return nil, platformerrors.NotFound("projects.store", "task")
		}
		return nil, platformerrors.Internal("projects.store", err)
	}
	return &t, nil
}

// CreateTask adds a task to a component.
func (s *Store) CreateTask(ctx context.Context, t *models.Task) (*models.Task, error) {
	const op = "projects.create_task"

	if t.Name == "" {
		return nil, platformerrors.Validation(op, fmt.Errorf("name is required")).WithField("name", "required")
	}
	if _, err := s.GetComponent(ctx, t.ComponentID); err != nil {
		return nil, err
	}

	t.ID = uuid.NewString()
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := s.db.Execute(ctx, `
		INSERT INTO tasks (id, component_id, name, description, status, assignee_id, due_at, completed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		t.ID, t.ComponentID, t.Name, t.Description, t.Status, t.AssigneeID, t.DueAt, t.CompletedAt, now)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTasks returns a component's tasks.
func (s *Store) ListTasks(ctx context.Context, componentID string) ([]models.Task, error) {
	rows, err := s.db.FetchRows(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE component_id = $1 ORDER BY created_at`, componentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// UpdateTask replaces mutable task fields.
func (s *Store) UpdateTask(ctx context.Context, id string, t *models.Task) (*models.Task, error) {
	existing, err := scanTask(s.db.FetchRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}

	if t.Name != "" {
		existing.Name = t.Name
	}
	if t.Description != "" {
		existing.Description = t.Description
	}
	if t.Status != "" {
		existing.Status = t.Status
	}
	if t.AssigneeID != nil {
		existing.AssigneeID = t.AssigneeID
	}
	if t.DueAt != nil {
		existing.DueAt = t.DueAt
	}
	if t.CompletedAt != nil {
		existing.CompletedAt = t.CompletedAt
	}
	existing.UpdatedAt = time.Now().UTC()

	_, err = s.db.Execute(ctx, `
		UPDATE tasks SET name = $2, description = $3, status = $4, assignee_id = $5,
			due_at = $6, completed_at = $7, updated_at = $8
		WHERE id = $1`,
		id, existing.Name, existing.Description, existing.Status, existing.AssigneeID,
		existing.DueAt, existing.CompletedAt, existing.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return existing, nil
}

// DeleteTask removes a task.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	affected, err := s.db.Execute(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return platformerrors.NotFound("projects.delete_task", "task")
	}
	return nil
}

// AddDependency records a directed component edge. The graph is not checked
// for cycles here.
func (s *Store) AddDependency(ctx context.Context, componentID, dependsOnID string) error {
	const op = "projects.add_dependency"

	if componentID == dependsOnID {
		return platformerrors.Validation(op, fmt.Errorf("a component cannot depend on itself"))
	}

	_, err := s.db.Execute(ctx, `
		INSERT INTO component_dependencies (component_id, depends_on_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`, componentID, dependsOnID)
	return err
}

// ListDependencies returns a project's dependency edges.
func (s *Store) ListDependencies(ctx context.Context, projectID string) ([]models.ComponentDependency, error) {
	rows, err := s.db.FetchRows(ctx, `
		SELECT d.component_id, d.depends_on_id
		FROM component_dependencies d
		JOIN components c ON c.id = d.component_id
		WHERE c.project_id = $1`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deps := []models.ComponentDependency{}
	for rows.Next() {
		var d models.ComponentDependency
		if err := rows.Scan(&d.ComponentID, &d.DependsOnID); err != nil {
			return nil, platformerrors.Internal("projects.dependencies", err)
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// RemoveDependency deletes one edge.
func (s *Store) RemoveDependency(ctx context.Context, componentID, dependsOnID string) error {
	affected, err := s.db.Execute(ctx,
		`DELETE FROM component_dependencies WHERE component_id = $1 AND depends_on_id = $2`,
		componentID, dependsOnID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return platformerrors.NotFound("projects.remove_dependency", "dependency")
	}
	return nil
}
