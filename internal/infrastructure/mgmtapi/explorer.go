package mgmtapi

import "net/http"

// handleExplorer serves a small self-contained API explorer so operators can
// poke the management surface from a browser without extra tooling.
func (d *Deps) handleExplorer(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(explorerHTML))
}

const explorerHTML = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>Maegashira API explorer</title>
<style>
body { font-family: ui-monospace, monospace; margin: 2rem; background: #111; color: #ddd; }
h1 { font-size: 1.2rem; }
input, button, textarea { font: inherit; background: #222; color: #ddd; border: 1px solid #444; padding: .3rem .5rem; }
textarea { width: 100%; min-height: 8rem; }
pre { background: #000; padding: 1rem; overflow: auto; }
section { margin-bottom: 2rem; }
</style>
</head>
<body>
<h1>Maegashira management API</h1>
<p>API key: <input id="key" type="password" placeholder="bearer key"></p>

<section>
<h2>GET /routes</h2>
<button onclick="getRoutes()">Fetch</button>
<pre id="routes-out"></pre>
</section>

<section>
<h2>POST /routes</h2>
<textarea id="table">[]</textarea><br>
<button onclick="postRoutes()">Replace table</button>
<pre id="post-out"></pre>
</section>

<section>
<h2>GET /health &middot; GET /metrics &middot; GET /</h2>
<p><a href="/health">/health</a> &middot; <a href="/metrics">/metrics</a> &middot; <a href="/">OpenAPI</a></p>
</section>

<script>
function auth() { return { "Authorization": "Bearer " + document.getElementById("key").value }; }
async function getRoutes() {
  const r = await fetch("/routes", { headers: auth() });
  document.getElementById("routes-out").textContent = await r.text();
}
async function postRoutes() {
  const r = await fetch("/routes", {
    method: "POST",
    headers: Object.assign({ "Content-Type": "application/json" }, auth()),
    body: document.getElementById("table").value,
  });
  document.getElementById("post-out").textContent = r.status + " " + await r.text();
}
</script>
</body>
</html>
`
