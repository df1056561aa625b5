package web

// indexHTML is the dashboard page. Self-contained so the binary needs
// no asset directory next to it.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>iris dashboard</title>
<style>
  body { font-family: ui-monospace, Menlo, monospace; background: #111; color: #ddd; margin: 0; padding: 1rem; }
  h1 { font-size: 1.1rem; margin: 0 0 1rem; color: #9cf; }
  .grid { display: grid; grid-template-columns: 1fr 1fr; gap: 1rem; }
  .card { background: #1a1a1a; border: 1px solid #333; border-radius: 6px; padding: .8rem; }
  .card h2 { font-size: .85rem; margin: 0 0 .6rem; color: #888; text-transform: uppercase; }
  .pill { display: inline-block; padding: .1rem .5rem; border-radius: 999px; margin: 0 .4rem .4rem 0; font-size: .8rem; background: #333; }
  .pill.on { background: #164; color: #cfc; }
  .pill.warn { background: #641; color: #fc9; }
  .pill.off { background: #411; color: #fcc; }
  table { width: 100%; border-collapse: collapse; font-size: .8rem; }
  th, td { text-align: left; padding: .2rem .4rem; border-bottom: 1px solid #2a2a2a; }
  th { color: #888; }
  #events { height: 16rem; overflow-y: auto; font-size: .78rem; }
  #events div { padding: .1rem 0; border-bottom: 1px solid #222; }
  .k-error { color: #f88; }
  .k-speak { color: #9f9; }
  .k-dispatch { color: #9cf; }
  #camera { max-width: 100%; border-radius: 4px; background: #000; min-height: 6rem; }
  .quote { color: #eee; font-size: .85rem; margin: .2rem 0; }
  .quote span { color: #777; }
</style>
</head>
<body>
<h1>iris &mdash; perception &amp; dispatch</h1>
<div class="grid">
  <div class="card">
    <h2>State</h2>
    <div id="pills"></div>
    <div class="quote"><span>heard:</span> <em id="heard"></em></div>
    <div class="quote"><span>spoken:</span> <em id="spoken"></em></div>
    <div class="quote"><span>scene:</span> <em id="scene"></em></div>
  </div>
  <div class="card">
    <h2>Camera</h2>
    <img id="camera" alt="camera feed">
  </div>
  <div class="card">
    <h2>Capability latency</h2>
    <table id="latency"><tr><th>bucket</th><th>count</th><th>avg</th><th>last</th><th>fail</th></tr></table>
  </div>
  <div class="card">
    <h2>Events</h2>
    <div id="events"></div>
  </div>
</div>
<script>
const wsBase = (location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host;

function pill(label, cls) {
  return '<span class="pill ' + cls + '">' + label + '</span>';
}

function renderState(s) {
  const linkCls = s.link === 'online' ? 'on' : (s.link === 'degraded' ? 'warn' : 'off');
  document.getElementById('pills').innerHTML =
    pill('link: ' + s.link, linkCls) +
    pill('head units: ' + s.head_units, s.head_units > 0 ? 'on' : 'off') +
    pill('video', s.video_up ? 'on' : 'off') +
    pill('listening', s.listening ? 'on' : '') +
    pill('speaking', s.speaking ? 'on' : '');
  document.getElementById('heard').textContent = s.last_heard || '—';
  document.getElementById('spoken').textContent = s.last_spoken || '—';
  document.getElementById('scene').textContent = s.scene_brief || '—';
}

function ms(ns) { return (ns / 1e6).toFixed(0) + 'ms'; }

function renderLatency(buckets) {
  let rows = '<tr><th>bucket</th><th>count</th><th>avg</th><th>last</th><th>fail</th></tr>';
  for (const key of Object.keys(buckets).sort()) {
    const b = buckets[key];
    rows += '<tr><td>' + key + '</td><td>' + b.count + '</td><td>' + ms(b.average) +
      '</td><td>' + ms(b.last) + '</td><td>' + b.failures + '</td></tr>';
  }
  document.getElementById('latency').innerHTML = rows;
}

const statusWS = new WebSocket(wsBase + '/ws/status');
statusWS.onmessage = (e) => {
  const msg = JSON.parse(e.data);
  if (msg.type === 'state') renderState(msg.data);
  if (msg.type === 'latency') renderLatency(msg.data);
};

const eventsEl = document.getElementById('events');
const eventWS = new WebSocket(wsBase + '/ws/events');
eventWS.onmessage = (e) => {
  const ev = JSON.parse(e.data);
  const div = document.createElement('div');
  div.className = 'k-' + ev.kind;
  div.textContent = ev.time + '  [' + ev.kind + '] ' + ev.message;
  eventsEl.prepend(div);
  while (eventsEl.childNodes.length > 200) eventsEl.removeChild(eventsEl.lastChild);
};

const cameraEl = document.getElementById('camera');
const cameraWS = new WebSocket(wsBase + '/ws/camera');
cameraWS.binaryType = 'blob';
cameraWS.onmessage = (e) => {
  const url = URL.createObjectURL(e.data);
  const old = cameraEl.src;
  cameraEl.src = url;
  if (old) URL.revokeObjectURL(old);
};

fetch('/api/events').then(r => r.json()).then(body => {
  for (const ev of body.events) {
    const div = document.createElement('div');
    div.className = 'k-' + ev.kind;
    div.textContent = ev.time + '  [' + ev.kind + '] ' + ev.message;
    eventsEl.prepend(div);
  }
});
</script>
</body>
</html>
`
