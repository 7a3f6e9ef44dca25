package services

// Layout wrapped around every workflow email body
const leadEmailTemplate = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .content { background-color: #f9f9f9; padding: 30px; border: 1px solid #ddd; border-radius: 5px; }
        .footer { text-align: center; padding: 20px; color: #777; font-size: 12px; }
    </style>
</head>
<body>
    <div class="container">
        <div class="content">
            {{range .Paragraphs}}<p>{{.}}</p>
            {{end}}
        </div>
        <div class="footer">
            <p>Sent by {{.Sender}}</p>
        </div>
    </div>
</body>
</html>
`
