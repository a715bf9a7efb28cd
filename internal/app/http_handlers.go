package app

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

const multipartMemory = 8 << 20

// Auth

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Register(r.Context(), RegisterInput{Name: body.Name, Email: body.Email, Password: body.Password})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionView(session))
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(session))
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(session))
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.Logout(r.Context(), body.RefreshToken); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.service.Me(r.Context(), actorFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name  *string `json:"name"`
		Email *string `json:"email"`
		Phone *string `json:"phone"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.service.UpdateProfile(r.Context(), actorFrom(r), ProfileInput{Name: body.Name, Email: body.Email, Phone: body.Phone})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Projects

func (s *HTTPServer) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.service.ListProjects(r.Context(), actorFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *HTTPServer) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	project, err := s.service.CreateProject(r.Context(), actorFrom(r), CreateProjectInput{Name: body.Name, Description: body.Description})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (s *HTTPServer) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.service.GetProject(r.Context(), actorFrom(r), chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *HTTPServer) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if err := s.service.DeleteProject(r.Context(), actorFrom(r), projectID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "id": projectID})
}

// Members

func (s *HTTPServer) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.service.ListMembers(r.Context(), actorFrom(r), chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (s *HTTPServer) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	member, added, err := s.service.AddMember(r.Context(), actorFrom(r), chi.URLParam(r, "projectID"), AddMemberInput{UserID: body.UserID, Username: body.Username})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, member)
}

func (s *HTTPServer) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := s.service.RemoveMember(r.Context(), actorFrom(r), chi.URLParam(r, "projectID"), userID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": true, "userId": userID})
}

// Tasks

func (s *HTTPServer) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.service.ListTasks(r.Context(), actorFrom(r), chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *HTTPServer) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Status      string `json:"status"`
		Deadline    string `json:"deadline"`
		AssigneeID  string `json:"assigneeId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	task, err := s.service.CreateTask(r.Context(), actorFrom(r), chi.URLParam(r, "projectID"), CreateTaskInput{
		Title:       body.Title,
		Description: body.Description,
		Status:      body.Status,
		Deadline:    body.Deadline,
		AssigneeID:  body.AssigneeID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *HTTPServer) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.service.GetTask(r.Context(), actorFrom(r), chi.URLParam(r, "taskID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *HTTPServer) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
		Deadline    *string `json:"deadline"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	task, err := s.service.UpdateTask(r.Context(), actorFrom(r), chi.URLParam(r, "taskID"), UpdateTaskInput{
		Title:       body.Title,
		Description: body.Description,
		Deadline:    body.Deadline,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *HTTPServer) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if err := s.service.DeleteTask(r.Context(), actorFrom(r), taskID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "id": taskID})
}

func (s *HTTPServer) handleChangeTaskStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	task, err := s.service.ChangeTaskStatus(r.Context(), actorFrom(r), chi.URLParam(r, "taskID"), body.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *HTTPServer) handleAssignTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AssigneeID *string `json:"assigneeId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	task, err := s.service.AssignTask(r.Context(), actorFrom(r), chi.URLParam(r, "taskID"), body.AssigneeID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *HTTPServer) handleListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := s.service.ListComments(r.Context(), actorFrom(r), chi.URLParam(r, "taskID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": comments})
}

func (s *HTTPServer) handleCommentTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Body string `json:"body"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	comment, err := s.service.CommentTask(r.Context(), actorFrom(r), chi.URLParam(r, "taskID"), body.Body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

// Chat

func (s *HTTPServer) handleListChat(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	messages, err := s.service.ListChatMessages(r.Context(), actorFrom(r), chi.URLParam(r, "projectID"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": messages})
}

func (s *HTTPServer) handlePostChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	msg, err := s.service.PostChatMessage(r.Context(), actorFrom(r), chi.URLParam(r, "projectID"), body.Text)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// Files

func (s *HTTPServer) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.service.ListFiles(r.Context(), actorFrom(r), chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *HTTPServer) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	limit := s.service.maxUpload()
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, r, errTooLarge(limit))
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected a multipart form with a file field", nil)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.fail(w, r, errValidation("file", "File is required"))
		return
	}
	defer file.Close()

	name := header.Filename
	if override := strings.TrimSpace(r.FormValue("name")); override != "" {
		name = override
	}
	uploaded, err := s.service.UploadFile(r.Context(), actorFrom(r), chi.URLParam(r, "projectID"), UploadInput{
		Name:     name,
		MimeType: header.Header.Get("Content-Type"),
		Size:     header.Size,
		Body:     file,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, uploaded)
}

func (s *HTTPServer) handlePresignUpload(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		MimeType string `json:"mimeType"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	presigned, err := s.service.PresignUpload(r.Context(), actorFrom(r), chi.URLParam(r, "projectID"), body.Name, body.MimeType)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presigned)
}

func (s *HTTPServer) handleConfirmUpload(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key      string `json:"key"`
		Name     string `json:"name"`
		MimeType string `json:"mimeType"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	file, err := s.service.ConfirmUpload(r.Context(), actorFrom(r), chi.URLParam(r, "projectID"), ConfirmUploadInput{
		Key:      body.Key,
		Name:     body.Name,
		MimeType: body.MimeType,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, file)
}

func (s *HTTPServer) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	download, err := s.service.FileDownloadURL(r.Context(), actorFrom(r), chi.URLParam(r, "fileID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, download)
}

func (s *HTTPServer) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")
	if err := s.service.DeleteFile(r.Context(), actorFrom(r), fileID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "id": fileID})
}

// Activity and search

func (s *HTTPServer) handleListActivity(w http.ResponseWriter, r *http.Request) {
	sinceID, err := queryInt(r, "sinceId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ascending := false
	switch strings.ToLower(r.URL.Query().Get("order")) {
	case "", "desc":
	case "asc":
		ascending = true
	default:
		s.fail(w, r, errValidation("order", "order must be asc or desc"))
		return
	}
	events, err := s.service.ListActivity(r.Context(), actorFrom(r), chi.URLParam(r, "projectID"), ActivityQuery{
		SinceID:   int64(sinceID),
		Limit:     limit,
		Ascending: ascending,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	response, err := s.service.SearchProject(r.Context(), actorFrom(r), chi.URLParam(r, "projectID"), SearchInput{
		Text:   r.URL.Query().Get("q"),
		Type:   r.URL.Query().Get("type"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

// Admin

func (s *HTTPServer) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.service.ListUsers(r.Context(), actorFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *HTTPServer) handleSetUserRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.service.SetUserRole(r.Context(), actorFrom(r), chi.URLParam(r, "userID"), body.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
