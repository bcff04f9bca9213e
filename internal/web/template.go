package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/EVParts/EVP15KVAGeneratorControl/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
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
	"amps": func(v *float64) string {
		if v == nil {
			return "n/a"
		}
		return fmt.Sprintf("%.1f A", *v)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>Generator Control</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.ok { color: green; font-weight: bold; }
.fault { color: red; font-weight: bold; }
.off { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Generator Control{{if .Config.Version}} <small>{{.Config.Version}}</small>{{end}}</h1>

<h2>Mode</h2>
<table>
<tr><th>Mode</th><td id="mode">{{if .Ready}}{{.State.Mode}}{{else}}UNKNOWN{{end}}</td></tr>
<tr><th>Fault</th><td class="{{if .Fault}}fault{{else}}ok{{end}}">{{if .Fault}}{{.Fault}}{{else}}none{{end}}</td></tr>
<tr><th>BMS wake disabled</th><td>{{if .State.BMSDisabled}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Battery</h2>
<table>
<tr><th>Link</th><td class="{{if .State.BMSConnected}}connected{{else}}disconnected{{end}}">{{if .State.BMSConnected}}connected{{else}}down{{end}}</td></tr>
<tr><th>SOC</th><td>{{printf "%.1f" .State.BatterySOC}}%</td></tr>
<tr><th>Charge limit</th><td>{{printf "%.1f" .State.ChargeLimit}} A</td></tr>
<tr><th>Discharge limit</th><td>{{printf "%.1f" .State.DischargeLimit}} A</td></tr>
</table>

<h2>Inverter</h2>
<table>
<tr><th>Link</th><td class="{{if .State.InverterConnected}}connected{{else}}disconnected{{end}}">{{if .State.InverterConnected}}connected{{else}}down{{end}}</td></tr>
<tr><th>AC output</th><td>{{amps .State.ACOutputCurrent}}</td></tr>
<tr><th>Switch mode</th><td>{{.State.SwitchModeActual}} (target {{.State.SwitchModeTarget}})</td></tr>
<tr><th>Settle delay</th><td>{{.State.SettleDelay}}</td></tr>
<tr><th>Reverse power</th><td class="{{if .State.ReversePowerAlarm}}fault{{else}}off{{end}}">{{.State.ReversePowerCounter}}{{if .State.ReversePowerAlarm}} ALARM{{end}}</td></tr>
</table>

<h2>Relays</h2>
<table>
{{range .Relays}}<tr><th>{{.ID}} {{.Name}}</th><td class="{{if eq .State 1}}ok{{else}}off{{end}}">{{.State}}</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>Bus</th><td>{{.Config.Bus}}</td></tr>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Mode changes</th><td>{{.Counts.ModeChanges}}</td></tr>
<tr><th>Faults</th><td>{{.Counts.Faults}}</td></tr>
<tr><th>Reverse power alarms</th><td>{{.Counts.ReversePowerAlarms}}</td></tr>
<tr><th>Inverter commands</th><td>{{.Counts.InverterCommands}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Ticks</th><td>{{.Ticks}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/healthcheck">healthcheck</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has methods but the template wants plain fields.
	data := struct {
		status.Snapshot
		Ready  bool
		Uptime time.Duration
		Relays []status.RelayJSON
	}{
		Snapshot: snap,
		Ready:    snap.Ready(),
		Uptime:   snap.Uptime(),
		Relays:   status.Relays(snap.State.RelayStates),
	}
	return indexTmpl.Execute(w, data)
}
