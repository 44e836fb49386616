package extractor

import "github.com/JakeFAU/catalog-crawler/internal/browser"

var variantOptionsScript = browser.Script{
	Name: "variant-options",
	Source: `(selector) => {
	const select = document.querySelector(selector);
	if (!select) return { present: false, options: [] };
	const options = Array.from(select.querySelectorAll("option"))
		.map((o) => ({ value: o.value, label: (o.textContent || "").trim() }))
		.filter((o) => o.value);
	return { present: true, options };
}`,
}

// selectOptionScript sets the value and fires the events the site listens for.
var selectOptionScript = browser.Script{
	Name: "select-option",
	Source: `(selector, value) => {
	const select = document.querySelector(selector);
	if (!select) return false;
	const match = Array.from(select.options).some((o) => o.value === value);
	if (!match) return false;
	select.value = value;
	select.dispatchEvent(new Event("input", { bubbles: true }));
	select.dispatchEvent(new Event("change", { bubbles: true }));
	return true;
}`,
}

// attributesScript reads only the first visible panel; hidden panels belong to other variants.
var attributesScript = browser.Script{
	Name: "attributes",
	Source: `(panel, row, label, data) => {
	const visible = Array.from(document.querySelectorAll(panel))
		.find((w) => w instanceof HTMLElement && w.offsetParent !== null);
	if (!visible) return [];
	return Array.from(visible.querySelectorAll(row)).map((n) => ({
		label: (n.querySelector(label)?.textContent || "").trim(),
		data: (n.querySelector(data)?.textContent || "").trim(),
	}));
}`,
}

// availabilityScript carries the city forward: only the first row of a city group names it.
var availabilityScript = browser.Script{
	Name: "availability",
	Source: `(table) => {
	const rows = document.querySelectorAll(table + ":not([style*='display: none']) tbody tr");
	const out = [];
	let city = "";
	for (const row of rows) {
		const cityCell = (row.querySelector(".col.city")?.textContent || "").trim();
		if (cityCell) city = cityCell;
		out.push({
			city,
			address: (row.querySelector(".col.address a")?.textContent || "").trim(),
			stock: (row.querySelector(".col.item-count .almost-depleted-stock, .col.item-count .full-stock")?.textContent || "").trim(),
			sampleAvailable: row.querySelector(".col.item-count .sample-is-available") !== null,
		});
	}
	return out;
}`,
}
