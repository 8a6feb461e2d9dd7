package render

// dismissPopupsJS clicks known close controls, then strips overlays and
// fixed or sticky elements. It returns the number of elements touched.
const dismissPopupsJS = `(() => {
  const closeSelectors = [
    "button.close", ".modal-close", ".popup-close", ".close-button", "#close-button",
    ".modal .close", "[aria-label='Close']", ".advertisement-close", ".ad-close",
    "#cookieConsent .close", ".cookie-banner .close", ".dialog-close", ".popup .close",
    ".modal-dialog .close", ".modal-content .close", ".overlay-close"
  ];
  const removeSelectors = [
    ".modal", ".popup", ".overlay", "#overlay", ".modal-backdrop", ".advertisement",
    ".ad-overlay", "#cookie-banner", ".cookie-notice",
    "[class*='overlay']", "[class*='modal']", "[class*='popup']"
  ];
  let touched = 0;
  for (const sel of closeSelectors) {
    for (const el of document.querySelectorAll(sel)) {
      try { el.click(); touched++; } catch (e) {}
    }
  }
  for (const sel of removeSelectors) {
    for (const el of document.querySelectorAll(sel)) {
      if (el === document.body || el === document.documentElement) continue;
      el.remove(); touched++;
    }
  }
  for (const el of document.querySelectorAll("body *")) {
    const pos = window.getComputedStyle(el).position;
    if (pos === "fixed" || pos === "sticky") { el.remove(); touched++; }
  }
  if (document.body) {
    document.body.style.overflow = "visible";
    document.documentElement.style.overflow = "visible";
  }
  return touched;
})()`

// expandJS clicks "show more" style controls and unhides collapsed blocks.
const expandJS = `(() => {
  let touched = 0;
  const controls = document.querySelectorAll(
    "[class*='show-more'], [class*='read-more'], [class*='view-more'], [class*='expand']"
  );
  for (const el of controls) {
    try { el.click(); touched++; } catch (e) {}
  }
  for (const el of document.querySelectorAll("body *")) {
    if (el.tagName === "SCRIPT" || el.tagName === "STYLE" || el.tagName === "TEMPLATE") continue;
    if (window.getComputedStyle(el).display === "none") {
      el.style.display = "block"; touched++;
    }
  }
  return touched;
})()`

// scrollJS scrolls to the bottom and reports the resulting document height.
const scrollJS = `(() => {
  window.scrollTo(0, document.body ? document.body.scrollHeight : 0);
  return document.body ? document.body.scrollHeight : 0;
})()`

const readyStateJS = `document.readyState`

// extractJS collects everything a PageRecord needs in a single round trip.
const extractJS = `(() => {
  const clean = (s) => (s || "").replace(/\s+/g, " ").trim();
  const headers = [];
  for (const el of document.querySelectorAll("h1, h2, h3, h4, h5, h6")) {
    const text = clean(el.innerText);
    if (text) headers.push({ level: parseInt(el.tagName.substring(1), 10), text });
  }
  const links = [];
  for (const a of document.querySelectorAll("a[href]")) {
    links.push({ text: clean(a.innerText), href: a.href });
  }
  const images = [];
  for (const img of document.querySelectorAll("img")) {
    images.push({ alt: img.getAttribute("alt") || "", src: img.src || "" });
  }
  return {
    url: window.location.href,
    title: document.title || "",
    html: document.documentElement ? document.documentElement.outerHTML : "",
    text_content: document.body ? document.body.innerText : "",
    headers, links, images
  };
})()`
