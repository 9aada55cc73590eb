package api

import (
	"html/template"
	"net/http"
	"strconv"
)

// warningTmpl is the countdown view shown in an over-limit window. Every exit
// path (button, Escape, countdown expiry) posts a confirm-close back to the
// daemon; the window closes either way.
var warningTmpl = template.Must(template.New("warning").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Window limit reached</title>
<style>
  body { font-family: system-ui, sans-serif; background: #1e1e2e; color: #cdd6f4;
         display: flex; align-items: center; justify-content: center; height: 100vh; margin: 0; }
  .card { background: #313244; border-radius: 12px; padding: 2.5rem 3rem; text-align: center; max-width: 28rem; }
  h1 { font-size: 1.3rem; margin: 0 0 0.75rem; }
  p { margin: 0.5rem 0; color: #a6adc8; }
  #count { font-size: 2.5rem; font-weight: 700; color: #f38ba8; margin: 1rem 0; }
  button { background: #f38ba8; color: #1e1e2e; border: 0; border-radius: 8px;
           padding: 0.7rem 1.6rem; font-size: 1rem; cursor: pointer; }
</style>
</head>
<body>
<div class="card">
  <h1>Window limit reached</h1>
  <p>You have {{.Count}} windows open; the limit is {{.Limit}}.</p>
  <p>This window will close in</p>
  <div id="count">{{.Seconds}}</div>
  <button id="close-now">Close now</button>
  <p style="font-size:0.8rem">Press Escape to close immediately.</p>
</div>
<script>
var remaining = {{.Seconds}};
var windowId = {{.WindowID}};
var done = false;

function confirmClose(confirmed) {
  if (done) return;
  done = true;
  fetch('/v1/windows/confirm-close', {
    method: 'POST',
    headers: {'Content-Type': 'application/json'},
    body: JSON.stringify({windowId: windowId, confirmed: confirmed})
  }).finally(function () { window.close(); });
}

var timer = setInterval(function () {
  remaining--;
  document.getElementById('count').textContent = remaining;
  if (remaining <= 0) {
    clearInterval(timer);
    confirmClose(false);
  }
}, 1000);

document.getElementById('close-now').addEventListener('click', function () {
  confirmClose(true);
});
document.addEventListener('keydown', function (e) {
  if (e.key === 'Escape') confirmClose(true);
});
</script>
</body>
</html>
`))

func (s *Server) handleWarning(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	windowID, err := strconv.ParseInt(q.Get("windowId"), 10, 64)
	if err != nil || windowID == 0 {
		http.Error(w, "windowId required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	count, _ := strconv.Atoi(q.Get("count"))

	// Display duration in whole seconds, never less than one tick.
	seconds := int(s.resolver.Effective().WindowGracePeriod.Seconds())
	if seconds < 1 {
		seconds = 1
	}

	data := struct {
		Limit    int
		Count    int
		WindowID int64
		Seconds  int
	}{Limit: limit, Count: count, WindowID: windowID, Seconds: seconds}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := warningTmpl.Execute(w, data); err != nil {
		s.log.Error().Err(err).Msg("warning page render failed")
	}
}
