package handlers

import (
	"net/http"
)

// IndexHandler serves the landing page.
func IndexHandler(w http.ResponseWriter, r *http.Request) {
	writeHTML(w, indexPage)
}

// VisualizeHandler serves the entropy dashboard. It polls /quality and
// /stats from the browser.
func VisualizeHandler(w http.ResponseWriter, r *http.Request) {
	writeHTML(w, visualizePage)
}

func writeHTML(w http.ResponseWriter, page string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(page))
}

const indexPage = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>qrandom</title>
  <style>
    body { font-family: sans-serif; margin: 40px; color: #222; }
    .container { max-width: 760px; margin: 0 auto; }
    .endpoint { background: #f5f6f8; padding: 12px 16px; margin: 10px 0; border-radius: 6px; }
    .method { display: inline-block; width: 48px; font-weight: bold; color: #3b5bdb; }
    code { font-size: 0.95em; }
  </style>
</head>
<body>
  <div class="container">
    <h1>qrandom</h1>
    <p>Random numbers in [0, 255] from the ANU quantum random number generator, with a local cryptographic fallback.</p>
    <h2>Endpoints</h2>
    <div class="endpoint"><span class="method">GET</span><code>/random</code> a single number</div>
    <div class="endpoint"><span class="method">GET</span><code>/random/batch?count=100</code> up to 1000 numbers</div>
    <div class="endpoint"><span class="method">WS</span><code>/random/stream</code> a stream of numbers</div>
    <div class="endpoint"><span class="method">GET</span><code>/stats</code> service statistics</div>
    <div class="endpoint"><span class="method">GET</span><code>/quality</code> entropy analysis of recent numbers</div>
    <div class="endpoint"><span class="method">GET</span><code>/sources</code> source rotation state</div>
    <div class="endpoint"><span class="method">POST</span><code>/sources/{name}/probe</code> fetch from one source</div>
    <div class="endpoint"><span class="method">GET</span><code>/visualize</code> entropy dashboard</div>
  </div>
</body>
</html>
`

const visualizePage = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>qrandom entropy</title>
  <style>
    body { font-family: sans-serif; margin: 20px; color: #222; }
    .container { max-width: 1100px; margin: 0 auto; }
    .stats { display: grid; grid-template-columns: repeat(auto-fit, minmax(180px, 1fr)); gap: 16px; margin: 20px 0; }
    .card { background: #f5f6f8; padding: 16px; border-radius: 8px; text-align: center; }
    .value { font-size: 1.8em; font-weight: bold; color: #3b5bdb; }
    .label { color: #666; margin-top: 4px; }
    #histogram { display: flex; align-items: flex-end; height: 220px; gap: 4px; border-bottom: 1px solid #ccc; }
    #histogram div { flex: 1; background: #748ffc; }
    #live { font-family: monospace; word-wrap: break-word; }
  </style>
</head>
<body>
  <div class="container">
    <h1>Entropy dashboard</h1>
    <div class="stats">
      <div class="card"><div class="value" id="quality">-</div><div class="label">Overall quality</div></div>
      <div class="card"><div class="value" id="level">-</div><div class="label">Quality level</div></div>
      <div class="card"><div class="value" id="samples">-</div><div class="label">Samples</div></div>
      <div class="card"><div class="value" id="requests">-</div><div class="label">Requests</div></div>
      <div class="card"><div class="value" id="hitrate">-</div><div class="label">Cache hit rate</div></div>
      <div class="card"><div class="value" id="source">-</div><div class="label">Current source</div></div>
    </div>
    <h2>Distribution</h2>
    <div id="histogram"></div>
    <h2>Live stream</h2>
    <div id="live"></div>
  </div>
  <script>
    async function refresh() {
      const [quality, stats] = await Promise.all([
        fetch('/quality').then(r => r.json()),
        fetch('/stats').then(r => r.json()),
      ]);
      document.getElementById('quality').textContent = quality.overall_quality.toFixed(3);
      document.getElementById('level').textContent = quality.quality_level;
      document.getElementById('samples').textContent = quality.sample_size;
      document.getElementById('requests').textContent = stats.total_requests;
      document.getElementById('hitrate').textContent = stats.cache_hit_rate.toFixed(1) + '%';
      document.getElementById('source').textContent = stats.current_source || '-';
      const bins = quality.histogram || [];
      const max = Math.max(1, ...bins);
      const chart = document.getElementById('histogram');
      chart.innerHTML = '';
      bins.forEach(count => {
        const bar = document.createElement('div');
        bar.style.height = (100 * count / max) + '%';
        bar.title = count;
        chart.appendChild(bar);
      });
    }
    function stream() {
      const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
      const ws = new WebSocket(proto + '//' + location.host + '/random/stream');
      const live = document.getElementById('live');
      let values = [];
      ws.onmessage = event => {
        const msg = JSON.parse(event.data);
        values.push(msg.random_number);
        if (values.length > 64) values = values.slice(-64);
        live.textContent = values.join(' ');
      };
      ws.onclose = () => setTimeout(stream, 5000);
    }
    refresh();
    setInterval(refresh, 5000);
    stream();
  </script>
</body>
</html>
`
