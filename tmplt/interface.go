package tmplt

// StatusPage renders the server status. Data is a StatusData.
var StatusPage = `<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
	<meta http-equiv="refresh" content="5">
	<title>Voice Relay</title>
	<style>
		body {
			font-family: monospace;
			background: white;
			color: black;
			margin: 40px;
			line-height: 1.6;
		}
		table {
			border-collapse: collapse;
			margin: 20px 0;
		}
		th, td {
			border: 1px solid black;
			padding: 6px 14px;
			text-align: left;
		}
		#status {
			margin: 20px 0;
			padding: 10px;
			border: 1px solid black;
		}
	</style>
</head>
<body>
	<h1>Voice Relay</h1>
	<div id="status">
		Signaling: <b>{{.SignalingURL}}</b><br>
		Connected clients: {{.Connected}}<br>
		Speech service: {{if .SpeechEnabled}}configured{{else}}not configured{{end}}
	</div>
	<h2>Rooms</h2>
	{{if .Rooms}}
	<table>
		<tr><th>Room</th><th>Host</th><th>Guests</th><th>Created</th></tr>
		{{range .Rooms}}
		<tr><td>{{.RoomID}}</td><td>{{.HostName}}</td><td>{{.GuestCount}}/{{.MaxGuests}}</td><td>{{.CreatedAt.Format "15:04:05"}}</td></tr>
		{{end}}
	</table>
	{{else}}
	<p>No open rooms.</p>
	{{end}}
</body>
</html>
`
