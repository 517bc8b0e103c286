package sites

// Template is a starter bundle offered in the dashboard.
type Template struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Bundle
}

var starterTemplates = []Template{
	{
		ID:          "blank",
		Name:        "Blank page",
		Description: "A minimal HTML document to start from.",
		Bundle: Bundle{
			HTML: `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>My site</title>
</head>
<body>
  <h1>Hello, world</h1>
</body>
</html>`,
			CSS: "body { font-family: system-ui, sans-serif; margin: 2rem; }\n",
		},
	},
	{
		ID:          "portfolio",
		Name:        "Portfolio",
		Description: "A single page with an introduction and a project grid.",
		Bundle: Bundle{
			HTML: `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Portfolio</title>
</head>
<body>
  <header><h1>Your Name</h1><p>Designer and developer</p></header>
  <main class="projects">
    <article><h2>Project one</h2><p>What it is and what you did.</p></article>
    <article><h2>Project two</h2><p>What it is and what you did.</p></article>
  </main>
  <footer><p id="year"></p></footer>
</body>
</html>`,
			CSS: `body { font-family: system-ui, sans-serif; margin: 0; color: #222; }
header { padding: 3rem 2rem; background: #f4f4f4; }
.projects { display: grid; grid-template-columns: repeat(auto-fit, minmax(16rem, 1fr)); gap: 1rem; padding: 2rem; }
footer { padding: 1rem 2rem; color: #666; }
`,
			JS: "document.getElementById('year').textContent = new Date().getFullYear();\n",
		},
	},
	{
		ID:          "landing",
		Name:        "Landing page",
		Description: "A hero section with a call to action.",
		Bundle: Bundle{
			HTML: `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Launch</title>
</head>
<body>
  <section class="hero">
    <h1>Something new is coming</h1>
    <p>Tell visitors why they should care.</p>
    <a class="cta" href="#signup">Get started</a>
  </section>
</body>
</html>`,
			CSS: `.hero { min-height: 80vh; display: flex; flex-direction: column; align-items: center; justify-content: center; text-align: center; }
.cta { padding: .75rem 1.5rem; background: #2b59c3; color: #fff; border-radius: .25rem; text-decoration: none; }
`,
		},
	},
}

// Templates returns the starter templates.
func Templates() []Template {
	return append([]Template(nil), starterTemplates...)
}
