package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/cwi-dis/vrt-sync/internal/regulator"
	"github.com/cwi-dis/vrt-sync/internal/status"
)

var funcs = template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"fps": func(hz float64) string {
		return fmt.Sprintf("%.2f", hz)
	},
	"modeValue": func(m regulator.Mode) int {
		return int(m)
	},
}

var indexTmpl = template.Must(template.New("index").Funcs(funcs).Parse(indexHTML))

var configTmpl = template.Must(template.New("config").Funcs(funcs).Parse(configHTML))

const style = `<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.lost { color: #888; }
.error { color: red; }
.saved { color: green; }
.connected { color: green; }
.disconnected { color: red; }
</style>`

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>RealSense Sync Tool</title>
` + style + `
</head>
<body>
<h1>RealSense Sync Tool</h1>
<p>Convert RealSense sync signal to genlock.<br>
See <a href="/rssynctool">/rssynctool</a> to change settings.</p>

<h2>Sync</h2>
<table>
<tr><th>Sync source</th><td id="sync-source">{{.Regulator.Mode}}{{if not .Regulator.SourceActive}} (inactive){{end}}</td></tr>
<tr><th>Incoming</th><td id="fps-in"{{if eq .Regulator.In.Hz 0.0}} class="lost"{{end}}>{{fps .Regulator.In.Hz}} fps</td></tr>
<tr><th>Outgoing</th><td id="fps-out"{{if eq .Regulator.Out.Hz 0.0}} class="lost"{{end}}>{{fps .Regulator.Out.Hz}} fps</td></tr>
<tr><th>Free-running fps</th><td>{{fps .Regulator.FPSFree}}</td></tr>
<tr><th>Divider</th><td>{{.Regulator.Divider.Divisor}}</td></tr>
</table>

<h2>Counts</h2>
<table>
<tr><th>Edges</th><td>{{.Regulator.Stats.Edges}}</td></tr>
<tr><th>Releases</th><td>{{.Regulator.Stats.Releases}}</td></tr>
<tr><th>Pulses</th><td>{{.Regulator.Stats.Pulses}}</td></tr>
<tr><th>Overruns</th><td>{{.Regulator.Stats.Overruns}}</td></tr>
<tr><th>Output errors</th><td>{{.Regulator.Stats.OutputErrors}}</td></tr>
</table>

<h2>Outputs</h2>
<table>
<tr><th>Input</th><td>{{.Config.Chip}} line {{.Config.InputPin}}</td></tr>
{{range .Config.Outputs}}<tr><th>{{.Name}}</th><td>line {{.Pin}}, {{.Width}}</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickUs}}us</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>Config</th><td>{{.Config.ConfigPath}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/index.txt">Text</a></p>
</body>
</html>
`

const configHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Sync generator configuration</title>
` + style + `
</head>
<body>
<h1>Sync generator configuration</h1>
{{if .Error}}<p class="error"><em>Error: {{.Error}}</em></p>{{end}}
{{if .Saved}}<p class="saved">Settings saved.</p>{{end}}
<form method="get">
Sync source: <select name="syncsource">
{{range .Modes}}<option value="{{modeValue .}}"{{if eq . $.Settings.Mode}} selected{{end}}>{{.}}</option>
{{end}}</select><br>
FPS when free-running: <input name="fps_free" value="{{.Settings.FPSFree}}"><br>
Divider: <input name="divider" value="{{.Settings.Divider}}"><br>
<br>
<input type="submit">
</form>
<p><a href="/">Status</a></p>
</body>
</html>
`

type configPage struct {
	Settings regulator.Settings
	Error    string
	Saved    bool
}

// Modes lists the selectable sync sources.
func (configPage) Modes() []regulator.Mode {
	return regulator.Modes
}

func renderIndex(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}

func renderConfig(w io.Writer, page configPage) {
	configTmpl.Execute(w, page)
}
