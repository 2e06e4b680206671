package api

import (
	"net/http"
	"strconv"

	"github.com/11bztaylor/TaylorDashv1-sub001/internal/models"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/projects"
)

func queryInt(r *http.Request, key string) int {
	v, _ := strconv.Atoi(r.URL.Query().Get(key))
	return v
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	list, total, err := s.projects.List(r.Context(), projects.ListFilter{
		Status: models.ProjectStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"projects": list, "total": total})
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var p models.Project
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, r, err)
		return
	}

	if user := currentUser(r); user != nil {
		p.OwnerID = &user.ID
	}

	created, err := s.projects.Create(r.Context(), &p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.projects.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var p models.Project
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, r, err)
		return
	}

	updated, err := s.projects.Update(r.Context(), r.PathValue("id"), &p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.projects.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListComponents(w http.ResponseWriter, r *http.Request) {
	components, err := s.projects.ListComponents(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"components": components})
}

func (s *Server) handleCreateComponent(w http.ResponseWriter, r *http.Request) {
	var c models.Component
	if err := decodeJSON(r, &c); err != nil {
		writeError(w, r, err)
		return
	}
	c.ProjectID = r.PathValue("id")

	created, err := s.projects.CreateComponent(r.Context(), &c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateComponent(w http.ResponseWriter, r *http.Request) {
	var c models.Component
	if err := decodeJSON(r, &c); err != nil {
		writeError(w, r, err)
		return
	}

	updated, err := s.projects.UpdateComponent(r.Context(), r.PathValue("id"), &c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteComponent(w http.ResponseWriter, r *http.Request) {
	if err := s.projects.DeleteComponent(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.projects.ListTasks(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var t models.Task
	if err := decodeJSON(r, &t); err != nil {
		writeError(w, r, err)
		return
	}
	t.ComponentID = r.PathValue("id")

	created, err := s.projects.CreateTask(r.Context(), &t)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var t models.Task
	if err := decodeJSON(r, &t); err != nil {
		writeError(w, r, err)
		return
	}

	updated, err := s.projects.UpdateTask(r.Context(), r.PathValue("id"), &t)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.projects.DeleteTask(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDependencies(w http.ResponseWriter, r *http.Request) {
	deps, err := s.projects.ListDependencies(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"dependencies": deps})
}

func (s *Server) handleAddDependency(w http.ResponseWriter, r *http.Request) {
	var dep models.ComponentDependency
	if err := decodeJSON(r, &dep); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.projects.AddDependency(r.Context(), dep.ComponentID, dep.DependsOnID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dep)
}

func (s *Server) handleRemoveDependency(w http.ResponseWriter, r *http.Request) {
	err := s.projects.RemoveDependency(r.Context(), r.PathValue("id"), r.PathValue("depends_on"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
