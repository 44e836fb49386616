package discovery

import "github.com/JakeFAU/catalog-crawler/internal/browser"

var collectLinksScript = browser.Script{
	Name: "collect-links",
	Source: `(selector) => Array.from(document.querySelectorAll(selector))
	.map((a) => a.href || a.getAttribute("href") || "")
	.filter(Boolean)`,
}

var countScript = browser.Script{
	Name:   "count-links",
	Source: `(selector) => document.querySelectorAll(selector).length`,
}

// clickLoadMoreScript clicks every visible control; a control that throws is skipped.
var clickLoadMoreScript = browser.Script{
	Name: "click-load-more",
	Source: `(selector) => {
	const controls = Array.from(document.querySelectorAll(selector))
		.filter((el) => el.offsetParent !== null);
	let clicked = 0;
	for (const el of controls) {
		try {
			el.scrollIntoView({ block: "center" });
			el.click();
			clicked++;
		} catch (e) {}
	}
	return { found: controls.length, clicked };
}`,
}
