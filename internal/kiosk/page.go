package kiosk

// kioskPage は受付画面
// カメラのプレビュー、歓迎メッセージ、接続状態、登録撮影を1画面にまとめる
const kioskPage = `<!DOCTYPE html>
<html lang="id">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>Presensi</title>
    <style>
        body { font-family: sans-serif; margin: 0; background: #111; color: #eee; }
        main { display: flex; gap: 1rem; padding: 1rem; }
        #preview { width: 640px; height: 480px; background: #000; object-fit: cover; }
        #toast { position: fixed; top: 1rem; right: 1rem; background: #2e7d32; padding: 1rem; display: none; }
        #camera-error { color: #ef5350; }
        .state { font-weight: bold; }
    </style>
</head>
<body>
<main>
    <section>
        <img id="preview" alt="">
        <p id="camera-error"></p>
        <button id="start">Mulai Kamera</button>
        <button id="stop">Stop</button>
    </section>
    <section>
        <p>Server: <span id="state" class="state">-</span></p>
        <h2 id="name">-</h2>
        <p id="status"></p>
        <p id="time"></p>
        <h3>Registrasi</h3>
        <p id="prompt"></p>
        <button id="capture">Ambil Foto</button>
        <button id="reset">Ulangi</button>
        <form id="register">
            <input name="name" placeholder="Nama" required>
            <input name="id" placeholder="ID" required>
            <button type="submit">Daftar</button>
        </form>
    </section>
</main>
<div id="toast"></div>
<script>
const $ = (id) => document.getElementById(id);

async function call(method, path, body) {
    const res = await fetch(path, {
        method,
        headers: body ? {"Content-Type": "application/json"} : {},
        body: body ? JSON.stringify(body) : undefined,
    });
    const data = await res.json();
    if (!res.ok) throw data;
    return data;
}

async function startCamera() {
    $("camera-error").textContent = "";
    try {
        await call("POST", "/api/camera/start");
        $("preview").src = "/api/camera/stream?t=" + Date.now();
    } catch (e) {
        $("camera-error").textContent = e.message + " (" + e.error + ")";
    }
}

function showProgress(p) {
    $("prompt").textContent = p.complete
        ? "Selesai (" + p.captured + "/" + p.total + ")"
        : (p.next ? p.next.prompt : "") + " (" + p.captured + "/" + p.total + ")";
}

function showDisplay(d) {
    $("name").textContent = d.name;
    $("status").textContent = d.status;
    $("time").textContent = new Date(d.observed_at).toLocaleTimeString();
}

$("start").onclick = startCamera;
$("stop").onclick = async () => { await call("POST", "/api/camera/stop"); $("preview").src = ""; };
$("capture").onclick = async () => {
    try { showProgress(await call("POST", "/api/enroll/capture")); }
    catch (e) { $("prompt").textContent = e.message; }
};
$("reset").onclick = async () => showProgress(await call("POST", "/api/enroll/reset"));
$("register").onsubmit = async (ev) => {
    ev.preventDefault();
    const form = new FormData(ev.target);
    try {
        await call("POST", "/api/enroll/submit", {name: form.get("name"), id: form.get("id")});
        ev.target.reset();
        $("prompt").textContent = "Registrasi berhasil";
    } catch (e) {
        $("prompt").textContent = e.message;
    }
};

const events = new EventSource("/api/events");
events.addEventListener("state", (e) => { $("state").textContent = JSON.parse(e.data).data; });
events.addEventListener("update", (e) => showDisplay(JSON.parse(e.data).data));
events.addEventListener("enroll", (e) => showProgress(JSON.parse(e.data).data));
events.addEventListener("notification", (e) => {
    const n = JSON.parse(e.data).data;
    showDisplay(n);
    $("toast").textContent = n.title + " " + n.message;
    $("toast").style.display = "block";
    setTimeout(() => { $("toast").style.display = "none"; }, 4000);
});

call("GET", "/api/enroll").then(showProgress);
startCamera();
</script>
</body>
</html>
`
