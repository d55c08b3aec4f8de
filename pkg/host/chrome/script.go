package chrome

// helperScript is evaluated on the page before any operation. It installs a
// small bridge that hands out integer handles for live elements and mediates
// every read the adapter needs through one object. Handles die with the
// elements they point at: any access to a disconnected element reports gone
// instead of resurrecting it.
//
// Installation is idempotent; navigations wipe the bridge and the next
// ensure() reinstalls it, invalidating all previously issued handles — which
// is correct, since the nodes they referred to are gone with the old page.
const helperScript = `(function () {
	if (window.__vg) return;

	var nodes = [null];
	var pending = [];

	function handle(el) {
		if (!el) return 0;
		if (el.__vgH && nodes[el.__vgH] === el) return el.__vgH;
		var h = nodes.length;
		nodes.push(el);
		el.__vgH = h;
		return h;
	}

	function live(h) {
		var el = nodes[h];
		if (!el || !el.isConnected) return null;
		return el;
	}

	function compileRe(p) {
		var flags = "";
		if (p.indexOf("(?i)") === 0) { flags = "i"; p = p.slice(4); }
		return new RegExp(p, flags);
	}

	function ownText(el) {
		var t = "";
		for (var i = 0; i < el.childNodes.length; i++) {
			var c = el.childNodes[i];
			if (c.nodeType === Node.TEXT_NODE) t += c.textContent;
		}
		return t.trim();
	}

	var observer = new MutationObserver(function (muts) {
		for (var i = 0; i < muts.length; i++) {
			var added = muts[i].addedNodes;
			for (var j = 0; j < added.length; j++) {
				if (added[j].nodeType === Node.ELEMENT_NODE) pending.push(handle(added[j]));
			}
		}
	});
	var observing = false;

	window.__vg = {
		queryAll: function (scope, sel) {
			var root = scope ? live(scope) : document;
			if (!root) return { gone: true };
			var out = [];
			root.querySelectorAll(sel).forEach(function (el) { out.push(handle(el)); });
			return { ids: out };
		},
		findText: function (pattern) {
			var re = compileRe(pattern);
			var out = [];
			var walker = document.createTreeWalker(document.body, NodeFilter.SHOW_ELEMENT);
			for (var el = walker.nextNode(); el; el = walker.nextNode()) {
				if (re.test(ownText(el))) out.push(handle(el));
			}
			return { ids: out };
		},
		matches: function (h, sel) {
			var el = live(h);
			if (!el) return { gone: true };
			return { value: el.matches(sel) };
		},
		closest: function (h, sel) {
			var el = live(h);
			if (!el) return { gone: true };
			return { id: handle(el.closest(sel)) };
		},
		parent: function (h) {
			var el = live(h);
			if (!el) return { gone: true };
			return { id: handle(el.parentElement) };
		},
		siblingIndex: function (h) {
			var el = live(h);
			if (!el) return { gone: true };
			var i = 0;
			for (var s = el.previousElementSibling; s; s = s.previousElementSibling) i++;
			return { value: i };
		},
		text: function (h) {
			var el = live(h);
			if (!el) return { gone: true };
			return { value: (el.innerText || el.textContent || "").trim() };
		},
		attr: function (h, name) {
			var el = live(h);
			if (!el) return { gone: true };
			if (!el.hasAttribute(name)) return { present: false };
			return { present: true, value: el.getAttribute(name) };
		},
		setAttr: function (h, name, value) {
			var el = live(h);
			if (!el) return { gone: true };
			el.setAttribute(name, value);
			return {};
		},
		boolProp: function (h, name) {
			var el = live(h);
			if (!el) return { gone: true };
			if (typeof el[name] !== "boolean") return { present: false };
			return { present: true, value: el[name] };
		},
		setBoolProp: function (h, name, value) {
			var el = live(h);
			if (!el) return { gone: true };
			el[name] = value;
			return {};
		},
		click: function (h) {
			var el = live(h);
			if (!el) return { gone: true };
			el.click();
			return {};
		},
		rect: function (h) {
			var el = live(h);
			if (!el) return { gone: true };
			var r = el.getBoundingClientRect();
			return { x: r.x + r.width / 2, y: r.y + r.height / 2 };
		},
		focus: function (h) {
			var el = live(h);
			if (!el) return { gone: true };
			el.focus();
			return {};
		},
		scrollInfo: function (h) {
			var el = live(h);
			if (!el) return { gone: true };
			return { top: el.scrollTop, height: el.scrollHeight, client: el.clientHeight };
		},
		setScrollTop: function (h, top) {
			var el = live(h);
			if (!el) return { gone: true };
			el.scrollTop = top;
			return {};
		},
		wheel: function (h, deltaY) {
			var el = live(h);
			if (!el) return { gone: true };
			el.dispatchEvent(new WheelEvent("wheel", { deltaY: deltaY, bubbles: true, cancelable: true }));
			el.scrollBy({ top: deltaY, behavior: "instant" });
			return {};
		},
		observe: function () {
			if (!observing) {
				observer.observe(document.body, { childList: true, subtree: true });
				observing = true;
			}
			return {};
		},
		drain: function () {
			var out = pending;
			pending = [];
			return { ids: out };
		},
		unobserve: function () {
			if (observing) { observer.disconnect(); observing = false; }
			pending = [];
			return {};
		}
	};
})()`
