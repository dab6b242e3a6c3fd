package api

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var uiTemplates = template.Must(template.New("layout").Parse(`{{define "head"}}
<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>papersnap</title>
  <style>
    body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:960px;margin:32px auto;padding:0 16px;color:#0b0b0b;background:#fafafa}
    header{margin-bottom:24px}
    h1{font-size:22px;margin:0 0 8px}
    a{color:#0b63e5;text-decoration:none}
    a:hover{text-decoration:underline}
    .card{background:#fff;border:1px solid #e9e9e9;border-radius:10px;padding:16px;margin:12px 0}
    .row{display:flex;gap:12px;flex-wrap:wrap;align-items:center}
    .btn{display:inline-block;background:#0b63e5;color:#fff;border:none;padding:8px 12px;border-radius:8px;cursor:pointer}
    .btn.secondary{background:#444}
    .btn.danger{background:#b3261e}
    input[type=text]{padding:9px 10px;border:1px solid #dcdcdc;border-radius:8px;flex:1}
    .muted{color:#666}
    .mono{font-family:ui-monospace,SFMono-Regular,Menlo,Monaco,Consolas,monospace}
    table{width:100%;border-collapse:collapse}
    td,th{padding:6px 4px;border-bottom:1px solid #eee;text-align:left;vertical-align:top}
    form.inline{display:inline}
    .status{display:inline-block;padding:4px 8px;border-radius:6px;background:#efefef;font-size:12px}
    .status.succeeded{background:#e3f4e4}
    .status.failed{background:#fde2e0}
    footer{margin-top:24px;color:#666;font-size:12px}
  </style>
</head>
<body>
  <header>
    <h1><a href="/">papersnap</a></h1>
    <div class="muted">Capture translated paper pages into the library</div>
  </header>
  {{if .Error}}
  <div class="card" style="border-color:#f2b8b5;background:#fff6f6">
    <strong style="color:#b3261e">Error:</strong> <span class="muted">{{.Error}}</span>
  </div>
  {{end}}
{{end}}

{{define "foot"}}
  <footer>
    <div>API base: <span class="mono">/api/v1</span> · events: <span class="mono">/api/v1/events</span></div>
  </footer>
</body>
</html>
{{end}}

{{define "actions"}}
  {{if eq .Status "pending" "running"}}
  <form class="inline" method="post" action="/ui/tasks/{{.ID}}/cancel"><button class="btn secondary" type="submit">Cancel</button></form>
  {{end}}
  {{if eq .Status "failed" "cancelled"}}
  <form class="inline" method="post" action="/ui/tasks/{{.ID}}/retry"><button class="btn" type="submit">Retry</button></form>
  {{end}}
  {{if eq .Status "succeeded"}}
  <a class="btn" href="/api/v1/tasks/{{.ID}}/snapshot">Open</a>
  {{end}}
  <form class="inline" method="post" action="/ui/tasks/{{.ID}}/delete"><button class="btn danger" type="submit">Delete</button></form>
{{end}}

{{define "home"}}
  {{template "head" .}}
  <div class="card">
    <h2>New capture</h2>
    <form method="post" action="/ui/tasks">
      <div class="row">
        <input type="text" name="reference" placeholder="arxiv:2504.12345 or https://arxiv.org/abs/2504.12345" required />
        <input type="text" name="collection_key" placeholder="Collection key{{if .CollectionName}} (default: {{.CollectionName}}){{end}}" />
        <button class="btn" type="submit">Capture</button>
      </div>
    </form>
    <div class="muted">POST /api/v1/tasks</div>
  </div>

  <div class="card">
    <div class="row" style="justify-content:space-between">
      <h2>Tasks</h2>
      <form method="post" action="/ui/tasks/clear"><button class="btn danger" type="submit">Clear all</button></form>
    </div>
    {{if .Tasks}}
    <table>
      <tr><th>Reference</th><th>Collection</th><th>Title</th><th>Progress</th><th></th></tr>
      {{range .Tasks}}
      <tr>
        <td><a class="mono" href="/ui/tasks/{{.ID}}">{{.Reference}}</a></td>
        <td>{{.CollectionName}}</td>
        <td>{{.Title}}</td>
        <td><span class="status {{.Status}}">{{.StageLabel}}</span></td>
        <td>{{template "actions" .}}</td>
      </tr>
      {{end}}
    </table>
    {{else}}
    <div class="muted">No tasks yet</div>
    {{end}}
  </div>
  {{template "foot" .}}
{{end}}

{{define "task"}}
  {{template "head" .}}
  <div class="card">
    <h2>Task <span class="mono">{{.Task.ID}}</span></h2>
    <div>Reference: <span class="mono">{{.Task.Reference}}</span></div>
    {{if .Task.ResolvedURL}}<div>Resolved: <a class="mono" href="{{.Task.ResolvedURL}}">{{.Task.ResolvedURL}}</a></div>{{end}}
    {{if .Task.Title}}<div>Title: <strong>{{.Task.Title}}</strong></div>{{end}}
    {{if .Task.CollectionKey}}<div>Collection: {{.Task.CollectionName}} <span class="mono muted">{{.Task.CollectionKey}}</span></div>{{end}}
    <div>Status: <span class="status {{.Task.Status}}">{{.Task.Status}}</span> · {{.Task.StageLabel}}</div>
    {{if .Task.FilePath}}<div>File: <span class="mono">{{.Task.FilePath}}</span></div>{{end}}
    {{if .Task.ItemKey}}<div>Library item: <span class="mono">{{.Task.ItemKey}}</span></div>{{end}}
    <div class="muted">Created at: {{.Task.CreatedAt}}</div>
    <div style="margin-top:12px">
      {{template "actions" .Task}}
      <a class="btn secondary" href="/ui/tasks/{{.Task.ID}}">Refresh</a>
    </div>
  </div>
  {{template "foot" .}}
{{end}}
`))

// RegisterUIRoutes registers minimal HTML UI without JS
func (a *API) RegisterUIRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(uiTemplates)
	router.GET("/", a.UIHome)
	router.GET("/ui/tasks", a.UIOpenExisting)
	router.POST("/ui/tasks", a.UICreateTask)
	router.POST("/ui/tasks/clear", a.UIClearTasks)
	router.GET("/ui/tasks/:id", a.UITask)
	router.POST("/ui/tasks/:id/cancel", a.UICancelTask)
	router.POST("/ui/tasks/:id/retry", a.UIRetryTask)
	router.POST("/ui/tasks/:id/delete", a.UIDeleteTask)
}

// UIHome renders the submit form and the task list
func (a *API) UIHome(c *gin.Context) { c.HTML(http.StatusOK, "home", a.homeData("")) }

func (a *API) homeData(errMsg string) gin.H {
	data := gin.H{"Tasks": a.taskManager.List(), "Error": errMsg}
	if a.memory != nil {
		_, name := a.memory.Last()
		data["CollectionName"] = name
	}
	return data
}

// UIOpenExisting redirects to the task page by id
func (a *API) UIOpenExisting(c *gin.Context) {
	id := strings.TrimSpace(c.Query("id"))
	if id == "" {
		c.Redirect(http.StatusFound, "/")
		return
	}
	c.Redirect(http.StatusFound, "/ui/tasks/"+id)
}

// UICreateTask submits the form's reference and goes back to the list
func (a *API) UICreateTask(c *gin.Context) {
	key := strings.TrimSpace(c.PostForm("collection_key"))
	created, err := a.submit(c.Request.Context(), c.PostForm("reference"), key, "")
	if err != nil {
		c.HTML(http.StatusBadRequest, "home", a.homeData(err.Error()))
		return
	}
	c.Set(taskIDKey, created.ID)
	c.Redirect(http.StatusFound, "/")
}

// UITask renders a task page
func (a *API) UITask(c *gin.Context) {
	id := c.Param("id")
	if t, ok := a.taskManager.Get(id); ok {
		c.HTML(http.StatusOK, "task", gin.H{"Task": t})
		return
	}
	c.HTML(http.StatusNotFound, "home", a.homeData("task not found"))
}

func (a *API) UICancelTask(c *gin.Context) {
	a.uiAction(c, a.taskManager.Cancel)
}

func (a *API) UIRetryTask(c *gin.Context) {
	a.uiAction(c, func(id string) error {
		_, err := a.taskManager.Retry(id)
		return err //nolint:wrapcheck
	})
}

func (a *API) UIDeleteTask(c *gin.Context) {
	a.uiAction(c, a.taskManager.Delete)
}

// UIClearTasks removes every task
func (a *API) UIClearTasks(c *gin.Context) {
	a.taskManager.Clear()
	c.Redirect(http.StatusFound, "/")
}

func (a *API) uiAction(c *gin.Context, action func(id string) error) {
	if err := action(c.Param("id")); err != nil {
		c.HTML(statusFor(err), "home", a.homeData(err.Error()))
		return
	}
	c.Redirect(http.StatusFound, "/")
}

