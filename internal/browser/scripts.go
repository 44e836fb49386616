package browser

var attributeScript = Script{
	Name: "attribute",
	Source: `(selector, name) => {
	const el = document.querySelector(selector);
	if (!el) return { found: false, value: "" };
	const value = el.getAttribute(name);
	return { found: value !== null, value: (value || "").trim() };
}`,
}

var textScript = Script{
	Name: "text",
	Source: `(selector) => {
	const el = document.querySelector(selector);
	if (!el) return { found: false, value: "" };
	return { found: true, value: (el.textContent || "").trim() };
}`,
}

var existsScript = Script{
	Name:   "exists",
	Source: `(selector) => document.querySelector(selector) !== null`,
}
