package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// dashboardHTML is the single-page live view. It loads metrics and the
// filtered transaction list over the query API, then follows /ws updates.
const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Live Transactions · txpulse</title>
    <link rel="icon" href="data:image/svg+xml,<svg xmlns='http://www.w3.org/2000/svg' viewBox='0 0 100 100'><text y='.9em' font-size='90'>◉</text></svg>">
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        :root {
            --bg: #09090b; --bg-subtle: #18181b; --border: #27272a;
            --text: #fafafa; --text-secondary: #a1a1aa; --text-tertiary: #52525b;
            --accent: #22c55e; --amber: #f59e0b; --red: #ef4444;
        }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif;
            background: var(--bg); color: var(--text);
            min-height: 100vh; font-size: 14px;
            -webkit-font-smoothing: antialiased;
        }
        .mono { font-family: ui-monospace, SFMono-Regular, Menlo, monospace; }
        .container { max-width: 1200px; margin: 0 auto; padding: 0 24px; }
        header {
            border-bottom: 1px solid var(--border); padding: 16px 0;
            position: sticky; top: 0; background: var(--bg); z-index: 100;
        }
        .header-inner { display: flex; justify-content: space-between; align-items: center; }
        .logo { display: flex; align-items: center; gap: 10px; font-weight: 600; font-size: 15px; }
        .logo-mark { width: 24px; height: 24px; background: var(--accent); border-radius: 6px; }
        .live-badge {
            display: flex; align-items: center; gap: 8px;
            background: var(--bg-subtle); border: 1px solid var(--border);
            padding: 6px 12px; border-radius: 20px; font-size: 12px; color: var(--text-secondary);
        }
        .live-dot { width: 8px; height: 8px; border-radius: 50%; background: var(--text-tertiary); }
        .live-dot.on { background: var(--accent); animation: pulse 2s ease-in-out infinite; }
        @keyframes pulse { 0%, 100% { opacity: 1; } 50% { opacity: 0.4; } }

        .metrics { display: grid; grid-template-columns: repeat(4, 1fr); gap: 16px; padding: 32px 0 24px; }
        .metric { background: var(--bg-subtle); border: 1px solid var(--border); border-radius: 10px; padding: 20px; }
        .metric-value { font-size: 26px; font-weight: 600; }
        .metric-label { color: var(--text-secondary); font-size: 12px; margin-top: 4px; text-transform: uppercase; letter-spacing: 0.04em; }

        .filters { display: flex; flex-wrap: wrap; gap: 10px; padding-bottom: 20px; border-bottom: 1px solid var(--border); }
        .filters input, .filters select, .filters button {
            background: var(--bg-subtle); color: var(--text); border: 1px solid var(--border);
            border-radius: 6px; padding: 8px 10px; font-size: 13px;
        }
        .filters button { cursor: pointer; }
        .filters button.primary { background: var(--accent); color: #052e16; border-color: var(--accent); font-weight: 600; }
        .warning { color: var(--amber); font-size: 12px; padding: 10px 0; min-height: 32px; }

        table { width: 100%; border-collapse: collapse; }
        th { text-align: left; color: var(--text-tertiary); font-weight: 500; font-size: 12px; padding: 10px 8px; border-bottom: 1px solid var(--border); }
        td { padding: 10px 8px; border-bottom: 1px solid var(--border); }
        .risk { font-size: 11px; font-weight: 600; padding: 2px 8px; border-radius: 10px; }
        .risk-LOW { color: var(--accent); background: rgba(34, 197, 94, 0.1); }
        .risk-MEDIUM { color: var(--amber); background: rgba(245, 158, 11, 0.1); }
        .risk-HIGH { color: var(--red); background: rgba(239, 68, 68, 0.1); }
        .fraud { color: var(--red); font-weight: 600; }
        .empty { color: var(--text-tertiary); padding: 48px 0; text-align: center; }
        @media (max-width: 800px) { .metrics { grid-template-columns: repeat(2, 1fr); } }
    </style>
</head>
<body>
    <header>
        <div class="container header-inner">
            <div class="logo"><div class="logo-mark"></div>txpulse</div>
            <div class="live-badge"><span class="live-dot" id="liveDot"></span><span id="liveText">Connecting…</span></div>
        </div>
    </header>

    <main class="container">
        <section class="metrics">
            <div class="metric"><div class="metric-value" id="mTotal">–</div><div class="metric-label">Transactions</div></div>
            <div class="metric"><div class="metric-value mono" id="mAmount">–</div><div class="metric-label">Total Amount</div></div>
            <div class="metric"><div class="metric-value" id="mHigh">–</div><div class="metric-label">High Risk</div></div>
            <div class="metric"><div class="metric-value" id="mFraud">–</div><div class="metric-label">Confirmed Fraud</div></div>
        </section>

        <form class="filters" id="filters">
            <select name="type">
                <option value="">All types</option>
                <option value="credit_card">Credit card</option>
                <option value="paypal">PayPal</option>
            </select>
            <input name="min_amount" placeholder="Min amount" inputmode="decimal" size="10">
            <input name="max_amount" placeholder="Max amount" inputmode="decimal" size="10">
            <input name="merchant" placeholder="Merchant">
            <input name="category" placeholder="Category">
            <select name="status">
                <option value="">All statuses</option>
                <option value="approved">Approved</option>
                <option value="completed">Completed</option>
                <option value="pending">Pending</option>
                <option value="failed">Failed</option>
            </select>
            <select name="risk_level">
                <option value="">All risk</option>
                <option value="LOW">Low</option>
                <option value="MEDIUM">Medium</option>
                <option value="HIGH">High</option>
            </select>
            <input name="search" placeholder="Search…">
            <button type="submit" class="primary">Apply</button>
            <button type="button" id="clear">Clear</button>
        </form>
        <div class="warning" id="warning"></div>

        <table>
            <thead>
                <tr><th>ID</th><th>Type</th><th>Merchant</th><th>Category</th><th>Amount</th><th>Status</th><th>Risk</th><th>Time</th></tr>
            </thead>
            <tbody id="rows"></tbody>
        </table>
        <div class="empty" id="empty" hidden>No transactions match.</div>
    </main>

    <script>
    (function () {
        const form = document.getElementById('filters');
        let query = '';

        function text(id, v) { document.getElementById(id).textContent = v; }

        function cell(tr, value, cls) {
            const td = document.createElement('td');
            if (cls) td.className = cls;
            td.textContent = value;
            tr.appendChild(td);
            return td;
        }

        function renderMetrics(m) {
            text('mTotal', m.total_transactions);
            text('mAmount', '$' + Number(m.total_amount).toLocaleString(undefined, { minimumFractionDigits: 2, maximumFractionDigits: 2 }));
            text('mHigh', m.high_risk_count);
            text('mFraud', m.fraud_count);
        }

        function renderRows(txs) {
            const body = document.getElementById('rows');
            body.replaceChildren();
            const list = txs.slice().reverse();
            document.getElementById('empty').hidden = list.length > 0;
            for (const tx of list) {
                const tr = document.createElement('tr');
                cell(tr, tx.transaction_id, 'mono');
                cell(tr, tx.transaction_type);
                cell(tr, tx.merchant);
                cell(tr, tx.category);
                cell(tr, tx.amount, 'mono');
                cell(tr, tx.status);
                const risk = cell(tr, '');
                const badge = document.createElement('span');
                badge.className = 'risk risk-' + tx.risk_level;
                badge.textContent = tx.risk_level + ' ' + Number(tx.fraud_risk_score).toFixed(2);
                risk.appendChild(badge);
                if (tx.is_fraud) {
                    const f = document.createElement('span');
                    f.className = 'fraud';
                    f.textContent = ' FRAUD';
                    risk.appendChild(f);
                }
                cell(tr, new Date(tx.timestamp).toLocaleTimeString());
                body.appendChild(tr);
            }
        }

        async function load() {
            const [txRes, mRes] = await Promise.all([
                fetch('/api/transactions' + query),
                fetch('/api/metrics'),
            ]);
            const tx = await txRes.json();
            const m = await mRes.json();
            if (!tx.success) { text('warning', tx.error); return; }
            text('warning', tx.warning || '');
            renderRows(tx.transactions);
            if (m.success) renderMetrics(m);
        }

        form.addEventListener('submit', function (e) {
            e.preventDefault();
            const params = new URLSearchParams();
            for (const [k, v] of new FormData(form)) { if (v.trim() !== '') params.set(k, v.trim()); }
            const qs = params.toString();
            query = qs ? '?' + qs : '';
            load().catch(function (err) { text('warning', err.message); });
        });
        document.getElementById('clear').addEventListener('click', function () {
            form.reset();
            query = '';
            load().catch(function (err) { text('warning', err.message); });
        });

        function connect() {
            const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
            const ws = new WebSocket(proto + location.host + '/ws');
            ws.onopen = function () {
                document.getElementById('liveDot').classList.add('on');
                text('liveText', 'Live');
            };
            ws.onmessage = function (ev) {
                const msg = JSON.parse(ev.data);
                if (msg.type !== 'update') return;
                renderMetrics(msg.metrics);
                // Filtered views re-query so the server stays the only filter.
                if (query) { load().catch(function () {}); } else { renderRows(msg.transactions); }
            };
            ws.onclose = function () {
                document.getElementById('liveDot').classList.remove('on');
                text('liveText', 'Reconnecting…');
                setTimeout(connect, 2000);
            };
        }

        load().catch(function (err) { text('warning', err.message); });
        connect();
    })();
    </script>
</body>
</html>`

func dashboardPageHandler(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, dashboardHTML)
}
